package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

type ApprovalHandler struct {
	svc service.FlagRegistry
}

func NewApprovalHandler(svc service.FlagRegistry) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

func (h *ApprovalHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.list(w, r, service.ApprovalFilter{
		Status:     domain.ApprovalStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		ApproverID: q.Get("approver_id"),
		FlagID:     q.Get("flag_id"),
	})
}

func (h *ApprovalHandler) ListPendingForApprover(w http.ResponseWriter, r *http.Request) {
	approverID := strings.TrimSpace(chi.URLParam(r, "approverId"))
	if approverID == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "approver id is required", nil)
		return
	}
	h.list(w, r, service.ApprovalFilter{Status: domain.ApprovalStatusPending, ApproverID: approverID})
}

func (h *ApprovalHandler) list(w http.ResponseWriter, r *http.Request, filter service.ApprovalFilter) {
	approvals, err := h.svc.ListApprovals(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "failed to list approvals")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": approvals})
}

func (h *ApprovalHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FlagID     string `json:"flag_id"`
		ApproverID string `json:"approver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	approval, err := h.svc.CreateApproval(r.Context(), service.CreateApprovalInput{
		FlagID:     body.FlagID,
		ApproverID: body.ApproverID,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to create approval")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "approval.create",
		ActorID:    actorID(r),
		TargetType: "approval",
		TargetID:   approval.ID,
		Action:     "create",
		Outcome:    "success",
		Reason:     "approval_requested",
	}, "flag_id", approval.FlagID, "approver_id", approval.ApproverID)
	response.JSON(w, r, http.StatusCreated, approval)
}

func (h *ApprovalHandler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status     string `json:"status"`
		Comment    string `json:"comment"`
		ApproverID string `json:"approver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	approverID := strings.TrimSpace(body.ApproverID)
	if approverID == "" {
		approverID = strings.TrimSpace(r.Header.Get("X-Approver-Id"))
	}
	result, err := h.svc.ResolveApproval(r.Context(), service.Decision{
		ApprovalID: chi.URLParam(r, "id"),
		Status:     domain.ApprovalStatus(strings.ToLower(strings.TrimSpace(body.Status))),
		Comment:    body.Comment,
		ApproverID: approverID,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to resolve approval")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "approval.resolve",
		ActorID:    approverID,
		TargetType: "approval",
		TargetID:   result.ID,
		Action:     "resolve",
		Outcome:    "success",
		Reason:     "approval_" + string(result.Status),
	}, "flag_id", result.FlagID)
	response.JSON(w, r, http.StatusOK, result)
}
