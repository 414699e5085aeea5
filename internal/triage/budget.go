package triage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
)

// Gate decides how many of a set of candidate emails may be classified
// now, prioritized by recency. Admitted + skipped always equals the
// input size.
type Gate struct {
	budget BudgetSource
	source EmailSource
}

// NewGate creates a budget gate over the given budget and email source.
func NewGate(budget BudgetSource, source EmailSource) *Gate {
	return &Gate{budget: budget, source: source}
}

// Plan resolves the candidate ids, orders them most recent first, and
// returns the subset the budget admits plus the count skipped. Emails
// that no longer resolve count as skipped, not classified.
func (g *Gate) Plan(ctx context.Context, ids []string) ([]*mail.Email, int, error) {
	b, err := g.budget.EmailBudget(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("email budget: %w", err)
	}
	if b.Exhausted() {
		return nil, len(ids), nil
	}

	emails := make([]*mail.Email, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		e, ok, err := g.source.GetEmail(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("get email %s: %w", id, err)
		}
		if !ok {
			skipped++
			continue
		}
		emails = append(emails, e)
	}

	// Recency is the sole prioritization signal.
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Date.After(emails[j].Date)
	})

	remaining := b.Remaining(len(emails))
	if remaining < len(emails) {
		skipped += len(emails) - remaining
		emails = emails[:remaining]
	}
	return emails, skipped, nil
}

// LogBudget is a BudgetSource that counts today's audit log entries
// against a fixed daily limit, so the budget survives restarts.
// Limit 0 means unlimited.
type LogBudget struct {
	store Store
	limit int
	now   func() time.Time
}

// NewLogBudget creates a store-backed daily budget.
func NewLogBudget(store Store, dailyLimit int) *LogBudget {
	return &LogBudget{store: store, limit: dailyLimit, now: time.Now}
}

// EmailBudget reports classifications used since local midnight.
func (b *LogBudget) EmailBudget(ctx context.Context) (Budget, error) {
	if b.limit <= 0 {
		return Budget{Limit: 0}, nil
	}
	now := b.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	used, err := b.store.CountLogsSince(ctx, midnight)
	if err != nil {
		return Budget{}, fmt.Errorf("count logs: %w", err)
	}
	return Budget{Used: used, Limit: b.limit}, nil
}
