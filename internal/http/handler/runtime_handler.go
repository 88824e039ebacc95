package handler

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

type RuntimeHandler struct {
	svc service.FlagRegistry
}

func NewRuntimeHandler(svc service.FlagRegistry) *RuntimeHandler {
	return &RuntimeHandler{svc: svc}
}

func (h *RuntimeHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flagName := strings.TrimSpace(q.Get("flag_name"))
	if flagName == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "flag_name is required", nil)
		return
	}
	decision, err := h.svc.CheckRuntime(r.Context(), flagName, q.Get("user_id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to evaluate feature flag")
		return
	}
	response.JSON(w, r, http.StatusOK, decision)
}

func (h *RuntimeHandler) CheckAll(w http.ResponseWriter, r *http.Request) {
	flags, err := h.svc.CheckAllRuntime(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to evaluate feature flags")
		return
	}
	response.JSON(w, r, http.StatusOK, flags)
}
