package ledger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// DemoTenant owns the built-in demo fixtures.
const DemoTenant = "demo"

// DemoAccounts returns the fixtures used when no seed file is present.
func DemoAccounts() []core.Account {
	return []core.Account{
		{ID: "checking", TenantID: DemoTenant, Name: "Checking", Class: core.Asset, Balance: decimal.NewFromInt(2500)},
		{ID: "savings", TenantID: DemoTenant, Name: "Savings", Class: core.Asset, Balance: decimal.NewFromInt(10000)},
		{ID: "visa", TenantID: DemoTenant, Name: "Visa", Class: core.Liability, Balance: decimal.NewFromInt(420), BillingCycleDay: 15},
	}
}

// LoadAccounts reads a seed file of accounts. A missing file yields no
// accounts and no error.
func LoadAccounts(path, tenantID string) ([]core.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseAccounts(f, tenantID)
}

// ParseAccounts reads one account per line:
//
//	id|name|asset or liability|balance|billing cycle day
//
// Blank lines and lines starting with # are ignored. The last two columns are
// optional. Duplicate ids keep the first occurrence.
func ParseAccounts(r io.Reader, tenantID string) ([]core.Account, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := make([]core.Account, 0, len(lines))
	for n, line := range lines {
		cols := strings.Split(line, "|")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		if len(cols) < 3 {
			return nil, fmt.Errorf("seed line %d: expected at least 3 columns, got %d", n+1, len(cols))
		}
		a := core.Account{ID: cols[0], TenantID: tenantID, Name: cols[1], Class: core.AccountClass(cols[2])}
		if a.ID == "" || !a.Class.Valid() {
			return nil, fmt.Errorf("seed line %d: invalid account %q", n+1, line)
		}
		if len(cols) > 3 && cols[3] != "" {
			if a.Balance, err = decimal.NewFromString(cols[3]); err != nil {
				return nil, fmt.Errorf("seed line %d: balance: %w", n+1, err)
			}
		}
		if len(cols) > 4 && cols[4] != "" {
			day, err := strconv.Atoi(cols[4])
			if err != nil || day < 0 || day > 31 {
				return nil, fmt.Errorf("seed line %d: invalid billing cycle day %q", n+1, cols[4])
			}
			a.BillingCycleDay = day
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

// DemoRecurrings returns a small set of schedules over DemoAccounts, starting
// from the month of now.
func DemoRecurrings(now time.Time) []core.Recurring {
	first := core.NewDate(now.Year(), int(now.Month()), 1)
	amount := func(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(v)) }
	candidates := []core.Candidate{
		{
			ID: "rent", TenantID: DemoTenant, SourceAccountID: "checking", Description: "Rent",
			RecurringType: core.TypeStandard, NextOccurrenceDate: first, Amount: amount(900),
			CategoryID: "housing", AutoApplyEnabled: true, CreatedBy: "seed",
		},
		{
			ID: "savings-plan", TenantID: DemoTenant, SourceAccountID: "checking", Description: "Savings plan",
			RecurringType: core.TypeTransfer, NextOccurrenceDate: first.AddDays(27), Amount: amount(200),
			TransferAccountID: "savings", AutoApplyEnabled: true, CreatedBy: "seed",
		},
		{
			ID: "visa-statement", TenantID: DemoTenant, SourceAccountID: "checking", Description: "Visa statement",
			RecurringType: core.TypeCreditCardPayment, NextOccurrenceDate: first.AddDays(19),
			TransferAccountID: "visa", CategoryID: "card-payments", CreatedBy: "seed",
		},
	}
	out := make([]core.Recurring, 0, len(candidates))
	for _, c := range candidates {
		r, err := core.NewRecurring(c, now)
		if err != nil {
			// Fixtures are static; a failure here is a programming error.
			panic(fmt.Sprintf("demo recurring %s: %v", c.ID, err))
		}
		out = append(out, r)
	}
	return out
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
