package controlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/switchyard-pay/switchyard/internal/logger"
	"github.com/switchyard-pay/switchyard/internal/routing"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// handleCreateRule processes POST /api/v1/rules.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var draft routing.RuleDraft
	if !decodeJSON(w, r, &draft) {
		return
	}

	rule, err := a.rules.CreateRule(r.Context(), companyFrom(r), actorFrom(r), draft)
	if err != nil {
		a.writeError(w, r, err, "Failed to create rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule created",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.Name),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rule)
}

// handleListRules processes GET /api/v1/rules?status=ACTIVE,TESTING.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	rules, err := a.rules.ListRules(r.Context(), companyFrom(r), statuses...)
	if err != nil {
		a.writeError(w, r, err, "Failed to list rules")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, newListResponse(rules))
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := a.loadOwnedRule(w, r)
	if !ok {
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

// handleUpdateRule processes PATCH /api/v1/rules/{id}. Absent fields are
// left untouched; expected_version makes the write a compare-and-set.
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch routing.RulePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if _, ok := a.loadOwnedRule(w, r); !ok {
		return
	}
	patch.UpdatedBy = actorFrom(r)

	rule, err := a.rules.UpdateRule(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeError(w, r, err, "Failed to update rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule updated",
		slog.String("rule_id", rule.ID),
		slog.Int64("version", rule.Version),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.loadOwnedRule(w, r); !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.rules.DeleteRule(r.Context(), id, actorFrom(r)); err != nil {
		a.writeError(w, r, err, "Failed to delete rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule deleted", slog.String("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRuleStats serves counters even for soft-deleted rules, so the
// tenant check is part of the statistics lookup rather than GetRule.
func (a *API) handleGetRuleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := a.rules.GetRuleStatistics(r.Context(), companyFrom(r), id)
	if err != nil {
		a.writeError(w, r, err, "Failed to load rule statistics")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RuleStatsResponse{RuleID: id, Statistics: *stats})
}

func (a *API) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.rules.ReorderRules(r.Context(), companyFrom(r), actorFrom(r), req.Rules); err != nil {
		a.writeError(w, r, err, "Failed to reorder rules")
		return
	}

	logger.FromContext(r.Context()).Info("rules reordered", slog.Int("count", len(req.Rules)))
	w.WriteHeader(http.StatusNoContent)
}

// --- Private Helpers ---

// loadOwnedRule fetches the {id} rule and hides rules of other tenants
// behind a 404.
func (a *API) loadOwnedRule(w http.ResponseWriter, r *http.Request) (*ruleengine.Rule, bool) {
	id := chi.URLParam(r, "id")
	rule, err := a.rules.GetRule(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "Failed to load rule")
		return nil, false
	}
	if rule.CompanyID != companyFrom(r) {
		writeNotFound(w, r, id)
		return nil, false
	}
	return rule, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    "ERR_PAYLOAD_TOO_LARGE",
				Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		writeErrorResponse(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps service errors onto HTTP responses. Unknown errors are
// logged and reported as 500 with a generic message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, internalMsg string) {
	if ve, ok := routing.AsValidation(err); ok {
		details := make([]ErrorDetail, len(ve.Issues))
		for i, issue := range ve.Issues {
			details[i] = ErrorDetail{Field: issue.Field, Issue: issue.Issue}
		}
		writeErrorResponse(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Request validation failed",
			Details: details,
		})
		return
	}

	switch {
	case routing.IsNotFound(err):
		writeErrorResponse(w, r, http.StatusNotFound, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Rule not found",
		})
	case routing.IsConflict(err):
		writeErrorResponse(w, r, http.StatusConflict, ErrorResponse{
			Code:    "ERR_CONFLICT",
			Message: conflictMessage(err),
		})
	case r.Context().Err() != nil:
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrorResponse{
			Code:    "ERR_TIMEOUT",
			Message: "Request was cancelled before completion",
		})
	default:
		logger.FromContext(r.Context()).Error(internalMsg, slog.String("error", err.Error()))
		writeErrorResponse(w, r, http.StatusInternalServerError, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: internalMsg,
		})
	}
}

func conflictMessage(err error) string {
	if strings.Contains(err.Error(), "version") {
		return "Rule was modified concurrently; reload and retry"
	}
	return "A rule with this name already exists"
}

func writeNotFound(w http.ResponseWriter, r *http.Request, id string) {
	writeErrorResponse(w, r, http.StatusNotFound, ErrorResponse{
		Code:    "ERR_NOT_FOUND",
		Message: fmt.Sprintf("Rule %s not found", id),
	})
}

// parseStatuses reads a comma separated status filter. Empty means all.
func parseStatuses(raw string) ([]ruleengine.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []ruleengine.Status
	for _, part := range strings.Split(raw, ",") {
		s := ruleengine.Status(strings.ToUpper(strings.TrimSpace(part)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
