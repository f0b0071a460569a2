package ledger

import (
	"strings"
	"testing"
	"time"

	"ledger/internal/core"
)

func TestParseAccountsRejectsBadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few columns", "a|A\n"},
		{"bad class", "a|A|equity\n"},
		{"bad balance", "a|A|asset|ten\n"},
		{"bad cycle day", "a|A|liability|0|40\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAccounts(strings.NewReader(tt.input), "t"); err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
		})
	}
}

func TestDemoRecurringsAreValid(t *testing.T) {
	for _, r := range DemoRecurrings(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)) {
		if res := core.Validate(r.Candidate()); !res.IsValid {
			t.Errorf("fixture %s invalid: %+v", r.ID, res.Errors)
		}
		if r.TenantID != DemoTenant {
			t.Errorf("fixture %s has tenant %q", r.ID, r.TenantID)
		}
	}
}
