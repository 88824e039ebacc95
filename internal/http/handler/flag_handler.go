package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

type FlagHandler struct {
	svc service.FlagRegistry
}

func NewFlagHandler(svc service.FlagRegistry) *FlagHandler {
	return &FlagHandler{svc: svc}
}

type createFlagRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CodeChanges string `json:"code_changes"`
	Scope       string `json:"scope"`
	Config      struct {
		RolloutPercentage *int     `json:"rollout_percentage"`
		TargetUsers       []string `json:"target_users"`
	} `json:"config"`
}

// ListFlags returns every flag, or one page of them when page or page_size
// is given.
func (h *FlagHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.FlagStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))
	if q.Has("page") || q.Has("page_size") {
		page, err := parsePageRequest(q.Get("page"), q.Get("page_size"))
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, err.Error(), nil)
			return
		}
		result, err := h.svc.ListPaged(r.Context(), status, page)
		if err != nil {
			writeServiceError(w, r, err, "failed to list feature flags")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{
			"items":       result.Items,
			"page":        result.Page,
			"page_size":   result.PageSize,
			"total":       result.Total,
			"total_pages": result.TotalPages,
			"has_next":    result.HasNext(),
		})
		return
	}
	flags, err := h.svc.List(r.Context(), status)
	if err != nil {
		writeServiceError(w, r, err, "failed to list feature flags")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": flags})
}

func (h *FlagHandler) GetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to load feature flag")
		return
	}
	response.JSON(w, r, http.StatusOK, flag)
}

func (h *FlagHandler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var body createFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	in := service.CreateFlagInput{
		Name:        body.Name,
		Description: body.Description,
		CodeChanges: body.CodeChanges,
		Scope:       body.Scope,
		CreatedBy:   body.CreatedBy,
		TargetUsers: body.Config.TargetUsers,
	}
	if body.Config.RolloutPercentage != nil {
		in.RolloutPercentage = *body.Config.RolloutPercentage
	}
	flag, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, "failed to create feature flag")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "feature_flag.create",
		ActorID:    flag.CreatedBy,
		TargetType: "feature_flag",
		TargetID:   flag.ID,
		Action:     "create",
		Outcome:    "success",
		Reason:     "feature_flag_submitted",
	}, "name", flag.Name, "risk_level", string(flag.RiskLevel), "required_approver", flag.RequiredApprover)
	response.JSON(w, r, http.StatusCreated, flag)
}

func (h *FlagHandler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to toggle feature flag")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "feature_flag.toggle",
		ActorID:    actorID(r),
		TargetType: "feature_flag",
		TargetID:   flag.ID,
		Action:     "toggle",
		Outcome:    "success",
		Reason:     "status_" + string(flag.Status),
	}, "name", flag.Name)
	response.JSON(w, r, http.StatusOK, flag)
}

func (h *FlagHandler) UpdateRollout(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("rollout_percentage"))
	pct, err := strconv.Atoi(raw)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "rollout_percentage must be an integer", nil)
		return
	}
	flag, err := h.svc.UpdateRollout(r.Context(), chi.URLParam(r, "id"), pct)
	if err != nil {
		writeServiceError(w, r, err, "failed to update rollout")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "feature_flag.rollout",
		ActorID:    actorID(r),
		TargetType: "feature_flag",
		TargetID:   flag.ID,
		Action:     "update_rollout",
		Outcome:    "success",
		Reason:     "rollout_changed",
	}, "name", flag.Name, "rollout_percentage", flag.Config.RolloutPercentage)
	response.JSON(w, r, http.StatusOK, flag)
}

func parsePageRequest(pageRaw, sizeRaw string) (repository.PageRequest, error) {
	var page repository.PageRequest
	var err error
	if v := strings.TrimSpace(pageRaw); v != "" {
		if page.Page, err = strconv.Atoi(v); err != nil {
			return page, errInvalidQuery("page")
		}
	}
	if v := strings.TrimSpace(sizeRaw); v != "" {
		if page.PageSize, err = strconv.Atoi(v); err != nil {
			return page, errInvalidQuery("page_size")
		}
	}
	return page, nil
}

type errInvalidQuery string

func (e errInvalidQuery) Error() string { return string(e) + " must be an integer" }

func actorID(r *http.Request) string {
	for _, h := range []string{"X-Actor-Id", "X-Approver-Id"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return "anonymous"
}
