package triage

import (
	"context"
	"time"
)

// Store is the persistence interface for everything the engine owns.
// State writes are whole-record replacements (last write wins); log,
// example, and feedback rows are append-only.
type Store interface {
	GetState(ctx context.Context, emailID string) (*State, bool, error)
	PutState(ctx context.Context, st *State) error
	ListStatesByStatus(ctx context.Context, status Status) ([]*State, error)

	AppendLog(ctx context.Context, entry *LogEntry) error
	CountLogsSince(ctx context.Context, since time.Time) (int, error)

	AddTrainingExample(ctx context.Context, ex *TrainingExample) error
	ListTrainingExamples(ctx context.Context, accountID, fromAddress, fromDomain string, limit int) ([]*TrainingExample, error)

	AddFeedback(ctx context.Context, fb *Feedback) error

	GetSenderRule(ctx context.Context, accountID, domain string) (*SenderRule, bool, error)
	PutSenderRule(ctx context.Context, rule *SenderRule) error
	ListAutoApplyRules(ctx context.Context, accountID string) ([]*SenderRule, error)

	GetConfusedPattern(ctx context.Context, patternType, patternValue string) (*ConfusedPattern, bool, error)
	PutConfusedPattern(ctx context.Context, cp *ConfusedPattern) error
	ListConfusedPatterns(ctx context.Context, minDismissals int) ([]*ConfusedPattern, error)

	PutSnooze(ctx context.Context, sn *Snooze) error
	GetSnooze(ctx context.Context, emailID string) (*Snooze, bool, error)
	DeleteSnooze(ctx context.Context, emailID string) error
	ListDueSnoozes(ctx context.Context, now time.Time) ([]*Snooze, error)
}
