package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/switchyard-pay/switchyard/internal/logger"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

const defaultDecisionPage = 50

// handleEvaluate processes POST /api/v1/evaluate against the tenant's ACTIVE
// and TESTING rules. Statistics and the audit log are written asynchronously.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var tx ruleengine.TransactionContext
	if !decodeJSON(w, r, &tx) {
		return
	}

	decision, err := a.rules.EvaluateTransaction(r.Context(), companyFrom(r), tx)
	if err != nil {
		a.writeError(w, r, err, "Failed to evaluate transaction")
		return
	}

	logger.FromContext(r.Context()).Debug("transaction evaluated",
		slog.String("transaction_id", tx.TransactionID()),
		slog.Int("applied_rules", len(decision.AppliedRules)),
		slog.Bool("blocked", decision.Blocked),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, decision)
}

// handleTest processes POST /api/v1/test: the same evaluation with no
// statistics or audit side effects.
func (a *API) handleTest(w http.ResponseWriter, r *http.Request) {
	var tx ruleengine.TransactionContext
	if !decodeJSON(w, r, &tx) {
		return
	}

	decision, err := a.rules.TestRules(r.Context(), companyFrom(r), tx)
	if err != nil {
		a.writeError(w, r, err, "Failed to test rules")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, decision)
}

// handleListDecisions processes GET /api/v1/decisions?limit=N.
func (a *API) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r, "limit", defaultDecisionPage)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	logs, err := a.rules.ListDecisions(r.Context(), companyFrom(r), limit)
	if err != nil {
		a.writeError(w, r, err, "Failed to list decisions")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, newListResponse(logs))
}
