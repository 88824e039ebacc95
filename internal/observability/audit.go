package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type AuditInput struct {
	EventName  string
	ActorID    string
	TargetType string
	TargetID   string
	Action     string
	Outcome    string
	Reason     string
}

// EmitAudit writes a structured audit record for a state-changing request.
func EmitAudit(r *http.Request, in AuditInput, kv ...any) {
	ctx := r.Context()
	attrs := []any{
		"event_name", in.EventName,
		"actor_id", in.ActorID,
		"target_type", in.TargetType,
		"target_id", in.TargetID,
		"action", in.Action,
		"outcome", in.Outcome,
		"reason", in.Reason,
		"request_id", chimiddleware.GetReqID(ctx),
		"path", r.URL.Path,
	}
	attrs = append(attrs, kv...)
	slog.Default().InfoContext(ctx, "audit", attrs...)
}
