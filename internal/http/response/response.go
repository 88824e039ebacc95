// Package response writes the control plane's JSON bodies: a success/error
// envelope by default, or RFC 9457 problem details when the client asks for
// application/problem+json.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Stable error codes. Clients branch on these, not on messages.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeApprovalConflict  = "APPROVAL_CONFLICT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeDependencyUnready = "DEPENDENCY_UNREADY"
	CodeInternal          = "INTERNAL"

	problemTypePrefix = "urn:problem:feature-flags:"
	problemMediaType  = "application/problem+json"
)

var codeTitles = map[string]string{
	CodeBadRequest:        "Bad Request",
	CodeNotFound:          "Not Found",
	CodeMethodNotAllowed:  "Method Not Allowed",
	CodeConflict:          "Conflict",
	CodeInvalidTransition: "Invalid State Transition",
	CodeApprovalConflict:  "Approval Conflict",
	CodeRateLimited:       "Too Many Requests",
	CodeDependencyUnready: "Service Unavailable",
	CodeInternal:          "Internal Server Error",
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	Details   any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, "application/json", status, envelope{Success: true, Data: data, Meta: metaFor(r)})
}

// Error reports a failure. details is carried in both formats, e.g. the
// per-dependency readiness map.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	m := metaFor(r)
	if wantsProblem(r.Header.Get("Accept")) {
		write(w, problemMediaType, status, problem{
			Type:      problemTypePrefix + codeSlug(code),
			Title:     title(code, status),
			Status:    status,
			Detail:    message,
			Instance:  r.URL.Path,
			Code:      code,
			RequestID: m.RequestID,
			Details:   details,
		})
		return
	}
	write(w, "application/json", status, envelope{
		Error: &apiError{Code: code, Message: message, Details: details},
		Meta:  m,
	})
}

func write(w http.ResponseWriter, contentType string, status int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func metaFor(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// wantsProblem reports whether the Accept header lists problem+json with a
// non-zero quality. Malformed entries are ignored.
func wantsProblem(accept string) bool {
	for _, item := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(item))
		if err != nil || mediaType != problemMediaType {
			continue
		}
		q, ok := params["q"]
		if !ok {
			return true
		}
		if v, err := strconv.ParseFloat(q, 64); err == nil && v > 0 {
			return true
		}
	}
	return false
}

func codeSlug(code string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

func title(code string, status int) string {
	if t, ok := codeTitles[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Error"
}
