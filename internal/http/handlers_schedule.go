package http

import (
	"cmp"
	"fmt"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	defaultScheduleCount = 12
	maxScheduleCount     = 120
)

// handleSchedule lists the occurrences following date for an interval. It
// needs no tenant: the calculation touches no ledger data. anchor_day is the
// day-of-month the schedule started on; without it date's own day is used.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "date")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if start.IsZero() {
		BadRequestError("date is required").Write(w)
		return
	}
	interval, err := queryInt(r, "interval", 1)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	count, err := queryInt(r, "count", defaultScheduleCount)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if count < 1 || count > maxScheduleCount {
		BadRequestError(fmt.Sprintf("count must be between 1 and %d", maxScheduleCount)).Write(w)
		return
	}

	anchor, err := queryInt(r, "anchor_day", 0)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if anchor < 0 || anchor > 31 {
		BadRequestError("anchor_day must be between 1 and 31").Write(w)
		return
	}

	dates, err := core.FutureOccurrencesFrom(start, interval, anchor, count)
	if err != nil {
		writeError(w, r, log.OpRead, "Failed to compute schedule", err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"date":            start,
		"interval_months": interval,
		"anchor_day":      cmp.Or(anchor, start.Day()),
		"occurrences":     dates,
	}).Write(w)
}
