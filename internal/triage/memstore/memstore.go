// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

// Store holds triage state in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	states   map[string]*triage.State // email ID -> state
	logs     []*triage.LogEntry
	examples []*triage.TrainingExample
	feedback []*triage.Feedback
	rules    map[string]*triage.SenderRule      // accountID + "\x00" + domain
	confused map[string]*triage.ConfusedPattern // patternType + "\x00" + patternValue
	snoozes  map[string]*triage.Snooze          // email ID -> snooze
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		states:   make(map[string]*triage.State),
		rules:    make(map[string]*triage.SenderRule),
		confused: make(map[string]*triage.ConfusedPattern),
		snoozes:  make(map[string]*triage.Snooze),
	}
}

// GetState retrieves the classification state for an email. Returns a copy.
func (s *Store) GetState(_ context.Context, emailID string) (*triage.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[emailID]
	if !ok {
		return nil, false, nil
	}
	cp := *st
	return &cp, true, nil
}

// PutState stores a copy of the state, replacing any existing record.
func (s *Store) PutState(_ context.Context, st *triage.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.states[st.EmailID] = &cp
	return nil
}

// ListStatesByStatus returns copies of all states with the given status,
// ordered by email ID for determinism.
func (s *Store) ListStatesByStatus(_ context.Context, status triage.Status) ([]*triage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.State
	for _, st := range s.states {
		if st.Status == status {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmailID < out[j].EmailID })
	return out, nil
}

// AppendLog stores a copy of the audit entry.
func (s *Store) AppendLog(_ context.Context, entry *triage.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.logs = append(s.logs, &cp)
	return nil
}

// CountLogsSince counts audit entries created at or after the cutoff.
func (s *Store) CountLogsSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.logs {
		if !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// AddTrainingExample stores a copy of the example.
func (s *Store) AddTrainingExample(_ context.Context, ex *triage.TrainingExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ex
	s.examples = append(s.examples, &cp)
	return nil
}

// ListTrainingExamples returns up to limit examples for the account,
// newest first. Exact sender matches sort ahead of same-domain matches.
func (s *Store) ListTrainingExamples(_ context.Context, accountID, fromAddress, fromDomain string, limit int) ([]*triage.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.TrainingExample
	for _, ex := range s.examples {
		if ex.AccountID != accountID {
			continue
		}
		if !strings.EqualFold(ex.FromAddress, fromAddress) && !strings.EqualFold(ex.FromDomain, fromDomain) {
			continue
		}
		cp := *ex
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		iExact := strings.EqualFold(out[i].FromAddress, fromAddress)
		jExact := strings.EqualFold(out[j].FromAddress, fromAddress)
		if iExact != jExact {
			return iExact
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddFeedback stores a copy of the feedback record.
func (s *Store) AddFeedback(_ context.Context, fb *triage.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fb
	s.feedback = append(s.feedback, &cp)
	return nil
}

// Feedback returns copies of all stored feedback records in insertion
// order.
func (s *Store) Feedback() []*triage.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Feedback, len(s.feedback))
	for i, fb := range s.feedback {
		cp := *fb
		out[i] = &cp
	}
	return out
}

// GetSenderRule retrieves the rule for (account, domain). Returns a copy.
func (s *Store) GetSenderRule(_ context.Context, accountID, domain string) (*triage.SenderRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleKey(accountID, domain)]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// PutSenderRule stores a copy of the rule, replacing any existing one
// for the same (account, domain).
func (s *Store) PutSenderRule(_ context.Context, rule *triage.SenderRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules[ruleKey(rule.AccountID, rule.Pattern)] = &cp
	return nil
}

// ListAutoApplyRules returns copies of all auto-apply rules for the account.
func (s *Store) ListAutoApplyRules(_ context.Context, accountID string) ([]*triage.SenderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.SenderRule
	for _, r := range s.rules {
		if r.AccountID == accountID && r.AutoApply {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

// GetConfusedPattern retrieves one aggregate row. Returns a copy.
func (s *Store) GetConfusedPattern(_ context.Context, patternType, patternValue string) (*triage.ConfusedPattern, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.confused[ruleKey(patternType, patternValue)]
	if !ok {
		return nil, false, nil
	}
	out := *cp
	return &out, true, nil
}

// PutConfusedPattern stores a copy of the aggregate row.
func (s *Store) PutConfusedPattern(_ context.Context, cp *triage.ConfusedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *cp
	s.confused[ruleKey(cp.PatternType, cp.PatternValue)] = &out
	return nil
}

// ListConfusedPatterns returns copies of aggregates with at least
// minDismissals, most dismissed first.
func (s *Store) ListConfusedPatterns(_ context.Context, minDismissals int) ([]*triage.ConfusedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.ConfusedPattern
	for _, cp := range s.confused {
		if cp.DismissalCount >= minDismissals {
			c := *cp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DismissalCount != out[j].DismissalCount {
			return out[i].DismissalCount > out[j].DismissalCount
		}
		return out[i].PatternValue < out[j].PatternValue
	})
	return out, nil
}

// PutSnooze stores a copy of the snooze, replacing any existing one for
// the same email.
func (s *Store) PutSnooze(_ context.Context, sn *triage.Snooze) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sn
	s.snoozes[sn.EmailID] = &cp
	return nil
}

// GetSnooze retrieves the snooze for an email. Returns a copy.
func (s *Store) GetSnooze(_ context.Context, emailID string) (*triage.Snooze, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snoozes[emailID]
	if !ok {
		return nil, false, nil
	}
	cp := *sn
	return &cp, true, nil
}

// DeleteSnooze removes the snooze for an email. Unknown IDs are a no-op.
func (s *Store) DeleteSnooze(_ context.Context, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snoozes, emailID)
	return nil
}

// ListDueSnoozes returns copies of all snoozes due at or before now,
// earliest first.
func (s *Store) ListDueSnoozes(_ context.Context, now time.Time) ([]*triage.Snooze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Snooze
	for _, sn := range s.snoozes {
		if !sn.SnoozeUntil.After(now) {
			cp := *sn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnoozeUntil.Before(out[j].SnoozeUntil) })
	return out, nil
}

func ruleKey(a, b string) string { return a + "\x00" + b }
