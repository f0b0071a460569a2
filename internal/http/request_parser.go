// Package http provides HTTP server and handler implementations.
//
// This file decodes request bodies and query parameters into the inputs of
// the recurring service.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActor    = "X-Actor"

	defaultActor = "api"
	maxBodyBytes = 1 << 20
)

var errEmptyBody = errors.New("request body is empty")

// RecurringRequest is the body of create and validate requests.
type RecurringRequest struct {
	SourceAccountID    string               `json:"source_account_id"`
	Description        string               `json:"description"`
	RecurringType      core.RecurringType   `json:"recurring_type"`
	TransactionKind    core.TransactionKind `json:"transaction_kind"`
	IntervalMonths     *int                 `json:"interval_months"`
	NextOccurrenceDate core.Date            `json:"next_occurrence_date"`
	EndDate            core.Date            `json:"end_date"`
	IsDateFlexible     bool                 `json:"is_date_flexible"`
	Amount             decimal.NullDecimal  `json:"amount"`
	IsAmountFlexible   bool                 `json:"is_amount_flexible"`
	TransferAccountID  string               `json:"transfer_account_id"`
	CategoryID         string               `json:"category_id"`
	AutoApplyEnabled   bool                 `json:"auto_apply_enabled"`
	MaxFailedAttempts  *int                 `json:"max_failed_attempts"`
}

// Candidate converts the request to the validator's input.
func (req RecurringRequest) Candidate(tenantID, actor string) core.Candidate {
	return core.Candidate{
		TenantID:           tenantID,
		SourceAccountID:    strings.TrimSpace(req.SourceAccountID),
		Description:        sanitizeInput(req.Description),
		RecurringType:      req.RecurringType,
		TransactionKind:    req.TransactionKind,
		IntervalMonths:     req.IntervalMonths,
		NextOccurrenceDate: req.NextOccurrenceDate,
		EndDate:            req.EndDate,
		IsDateFlexible:     req.IsDateFlexible,
		Amount:             req.Amount,
		IsAmountFlexible:   req.IsAmountFlexible,
		TransferAccountID:  strings.TrimSpace(req.TransferAccountID),
		CategoryID:         strings.TrimSpace(req.CategoryID),
		AutoApplyEnabled:   req.AutoApplyEnabled,
		MaxFailedAttempts:  req.MaxFailedAttempts,
		CreatedBy:          actor,
	}
}

// PatchRequest is the body of update requests; absent fields are unchanged.
// An empty end_date string clears the end date.
type PatchRequest struct {
	Description        *string              `json:"description"`
	Amount             *decimal.NullDecimal `json:"amount"`
	NextOccurrenceDate *core.Date           `json:"next_occurrence_date"`
	EndDate            *core.Date           `json:"end_date"`
	IntervalMonths     *int                 `json:"interval_months"`
	AutoApplyEnabled   *bool                `json:"auto_apply_enabled"`
	IsActive           *bool                `json:"is_active"`
	MaxFailedAttempts  *int                 `json:"max_failed_attempts"`
}

func (req PatchRequest) Patch() services.RecurringPatch {
	p := services.RecurringPatch{
		Amount:             req.Amount,
		NextOccurrenceDate: req.NextOccurrenceDate,
		EndDate:            req.EndDate,
		IntervalMonths:     req.IntervalMonths,
		AutoApplyEnabled:   req.AutoApplyEnabled,
		IsActive:           req.IsActive,
		MaxFailedAttempts:  req.MaxFailedAttempts,
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		p.Description = &d
	}
	return p
}

// ExecuteRequest is the optional body of an execute request.
type ExecuteRequest struct {
	AsOf           core.Date           `json:"as_of"`
	OccurrenceDate core.Date           `json:"occurrence_date"`
	OverrideAmount decimal.NullDecimal `json:"override_amount"`
	AllowOverdraft bool                `json:"allow_overdraft"`
}

// Options builds the options of an interactive execution.
func (req ExecuteRequest) Options(actor string) services.ExecuteOptions {
	return services.ExecuteOptions{
		OverrideAmount: req.OverrideAmount,
		AsOf:           req.AsOf,
		OccurrenceDate: req.OccurrenceDate,
		AllowOverdraft: req.AllowOverdraft,
		Manual:         true,
		Actor:          actor,
	}
}

// decodeJSON reads one JSON document into v, rejecting unknown fields and
// trailing data. An empty body yields errEmptyBody.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// tenantID returns the trimmed X-Tenant-ID header.
func tenantID(r *http.Request) (string, bool) {
	t := strings.TrimSpace(r.Header.Get(HeaderTenantID))
	return t, t != ""
}

func actor(r *http.Request) string {
	if a := sanitizeInput(r.Header.Get(HeaderActor)); a != "" {
		return a
	}
	return defaultActor
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, key string) (core.Date, error) {
	d, err := core.ParseDate(r.URL.Query().Get(key))
	if err != nil {
		return core.Date{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// queryInt parses an optional integer query parameter, returning def when
// it is absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// sanitizeInput trims whitespace, drops control characters and caps the
// length of free text.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}

func loggerFrom(r *http.Request) *log.Logger {
	return log.FromContext(r.Context())
}
