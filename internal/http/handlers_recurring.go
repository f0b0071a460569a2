package http

import (
	"errors"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

// requireTenant writes a 400 and returns false when X-Tenant-ID is missing.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	t, ok := tenantID(r)
	if !ok {
		ErrorResponse(http.StatusBadRequest, codeMissingTenant, HeaderTenantID+" header is required").Write(w)
	}
	return t, ok
}

// handleValidate runs the static rules on a candidate without saving it. The
// response is 200 whether or not the candidate is valid.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req RecurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	res := s.svc.Validate(req.Candidate(tenant, actor(r)))
	if res.Errors == nil {
		res.Errors = []core.FieldError{}
	}
	NewJSONResponse().Body(res).Write(w)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req RecurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	rec, err := s.svc.Create(r.Context(), req.Candidate(tenant, actor(r)))
	if err != nil {
		writeError(w, r, log.OpCreate, "Failed to create recurring record", err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/recurring/"+rec.ID).
		Body(newRecurringView(rec)).
		Write(w)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.Get(r.Context(), r.PathValue("id"), tenant)
	if err != nil {
		writeError(w, r, log.OpRead, "Failed to load recurring record", err)
		return
	}
	NewJSONResponse().Body(newRecurringView(*rec)).Write(w)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req PatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	rec, err := s.svc.Update(r.Context(), r.PathValue("id"), tenant, req.Patch(), actor(r))
	if err != nil {
		writeError(w, r, log.OpUpdate, "Failed to update recurring record", err)
		return
	}
	NewJSONResponse().Body(newRecurringView(rec)).Write(w)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), r.PathValue("id"), tenant, actor(r)); err != nil {
		writeError(w, r, log.OpDelete, "Failed to delete recurring record", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.ResetFailures(r.Context(), r.PathValue("id"), tenant, actor(r))
	if err != nil {
		writeError(w, r, log.OpReset, "Failed to reset recurring failures", err)
		return
	}
	NewJSONResponse().Body(newRecurringView(rec)).Write(w)
}

// handleExecute runs one occurrence interactively. The body is optional.
// Every attempt that reached the engine answers with an ExecutionView; the
// status reflects the outcome.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		BadRequestError(err.Error()).Write(w)
		return
	}

	id := r.PathValue("id")
	res, err := s.svc.Execute(r.Context(), id, tenant, req.Options(actor(r)))
	if res == nil {
		writeError(w, r, log.OpExecute, "Failed to execute recurring record", err)
		return
	}

	view := newExecutionView(res)
	status := http.StatusOK
	if err != nil {
		status, _ = errorStatus(err)
		loggerFrom(r).WarnContext(r.Context(), "Recurring execution did not post",
			log.FieldRecurringID, id,
			log.FieldOutcome, res.Outcome,
			log.FieldError, err)
		if status >= http.StatusInternalServerError {
			view.Error = http.StatusText(status)
		}
	}
	s.events.LogExecution(r.Context(), id, tenant, string(res.Outcome), view.AmountApplied, len(res.Entries))
	NewJSONResponse().Status(status).Body(view).Write(w)
}

// handlePreview estimates the next statement payment of a card payment record.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	p, err := s.svc.Preview(r.Context(), r.PathValue("id"), tenant, asOf)
	if err != nil {
		writeError(w, r, log.OpPreview, "Failed to preview statement payment", err)
		return
	}
	NewJSONResponse().Body(newPreviewView(p)).Write(w)
}

// handleListDue lists the tenant's records due on or before as_of (today
// when absent).
func (s *Server) handleListDue(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if asOf.IsZero() {
		asOf = core.Today()
	}

	due, err := s.svc.ListDue(r.Context(), tenant, asOf)
	if err != nil {
		writeError(w, r, log.OpList, "Failed to list due recurring records", err)
		return
	}
	items := make([]DueView, 0, len(due))
	for _, rec := range due {
		items = append(items, DueView{
			RecurringView:  newRecurringView(rec),
			DaysUntil:      core.DaysUntil(rec.NextOccurrenceDate, asOf),
			DueDescription: core.DueDescription(rec.NextOccurrenceDate, asOf),
		})
	}
	NewJSONResponse().Body(map[string]any{
		"as_of": asOf,
		"count": len(items),
		"items": items,
	}).Write(w)
}
