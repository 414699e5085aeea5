package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
)

// PatternHint is the zero-cost local rule match fed to the classifier.
// The zero value means "no rule matched".
type PatternHint struct {
	Folder     mail.Folder `json:"folder,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

// Matched reports whether any rule produced a folder hint.
func (h PatternHint) Matched() bool { return h.Folder != "" }

// PatternMatcher is the synchronous local rule stage. Implementations
// must be cheap and must not fail; on internal trouble they return the
// zero hint.
type PatternMatcher interface {
	Match(ctx context.Context, email *mail.Email) PatternHint
}

// ClassifyRequest carries everything the classifier sees for one email.
type ClassifyRequest struct {
	Email    *mail.Email
	Hint     PatternHint
	Examples []*TrainingExample
}

// Verdict is the classifier's answer for one email.
type Verdict struct {
	Folder          mail.Folder `json:"folder"`
	Confidence      float64     `json:"confidence"`
	Reasoning       string      `json:"reasoning,omitempty"`
	PatternAgreed   bool        `json:"pattern_agreed"`
	SnoozeUntil     *time.Time  `json:"snooze_until,omitempty"`
	AutoDeleteAfter *time.Time  `json:"auto_delete_after,omitempty"`
}

// Classifier is the slow, budgeted stage of the pipeline, typically an
// LLM call. May fail; failures are per-item, never pipeline-fatal.
type Classifier interface {
	Classify(ctx context.Context, req *ClassifyRequest) (*Verdict, error)
}

// Budget reports classification usage for the current period.
// Limit == 0 means unlimited.
type Budget struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Exhausted reports whether no classification calls remain.
func (b Budget) Exhausted() bool { return b.Limit > 0 && b.Used >= b.Limit }

// Remaining returns how many calls remain, or n when unlimited.
func (b Budget) Remaining(n int) int {
	if b.Limit <= 0 {
		return n
	}
	if r := b.Limit - b.Used; r < n {
		if r < 0 {
			return 0
		}
		return r
	}
	return n
}

// BudgetSource reports the email-classification budget.
type BudgetSource interface {
	EmailBudget(ctx context.Context) (Budget, error)
}

// Mover moves a message between mailbox folders on the remote side.
// The caller updates the local folder index only after success.
type Mover interface {
	MoveMessage(ctx context.Context, account *mail.Account, uid uint32, from, to mail.Folder) error
}

// EmailSource is the read side of the email/account index maintained by
// the sync service, plus the single post-move write the engine needs.
type EmailSource interface {
	GetEmail(ctx context.Context, id string) (*mail.Email, bool, error)
	GetAccount(ctx context.Context, id string) (*mail.Account, bool, error)
	UpdateEmailFolder(ctx context.Context, emailID string, folder mail.Folder) error
}
