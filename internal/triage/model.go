package triage

import (
	"errors"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
)

// ErrNotFound marks a missing email, account, or folder. Fatal to the
// single operation that hit it, never retried automatically.
var ErrNotFound = errors.New("not found")

// Status tracks where an email is in the classification lifecycle.
type Status string

const (
	// StatusUnprocessed means the pipeline has not run for this email.
	StatusUnprocessed Status = "unprocessed"

	// StatusClassified means the verdict met the confidence threshold.
	StatusClassified Status = "classified"

	// StatusPendingReview means the verdict fell below the threshold
	// and waits in the review queue.
	StatusPendingReview Status = "pending_review"

	// StatusAccepted means the user confirmed the suggestion.
	StatusAccepted Status = "accepted"

	// StatusDismissed means the user rejected the suggestion.
	StatusDismissed Status = "dismissed"

	// StatusError means the pipeline failed for this email; retryable.
	StatusError Status = "error"
)

// Priority buckets a verdict by confidence for the review queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityFor derives the review priority from a confidence score.
func PriorityFor(confidence float64) Priority {
	switch {
	case confidence >= 0.9:
		return PriorityHigh
	case confidence >= 0.7:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// State is the classification record for one email. Writes replace the
// whole record; writers read-modify-write, never patch fields blindly.
type State struct {
	EmailID         string       `json:"email_id"`
	Status          Status       `json:"status"`
	Confidence      *float64     `json:"confidence,omitempty"`
	Priority        *Priority    `json:"priority,omitempty"`
	SuggestedFolder *mail.Folder `json:"suggested_folder,omitempty"`
	Reasoning       string       `json:"reasoning,omitempty"`
	ClassifiedAt    *time.Time   `json:"classified_at,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	DismissedAt     *time.Time   `json:"dismissed_at,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// LogSource records who decided the final folder of an audit entry.
type LogSource string

const (
	SourceLLM          LogSource = "llm"
	SourceUserOverride LogSource = "user-override"
)

// LogEntry is one append-only audit row per orchestrator run. Never
// updated or deleted by the engine.
type LogEntry struct {
	EmailID       string      `json:"email_id"`
	AccountID     string      `json:"account_id"`
	PatternFolder mail.Folder `json:"pattern_folder,omitempty"`
	LLMFolder     mail.Folder `json:"llm_folder"`
	LLMConfidence float64     `json:"llm_confidence"`
	PatternAgreed bool        `json:"pattern_agreed"`
	FinalFolder   mail.Folder `json:"final_folder"`
	Source        LogSource   `json:"source"`
	Reasoning     string      `json:"reasoning,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TrainingExample is a user correction kept as few-shot context for
// future classifier calls. Read-only after creation.
type TrainingExample struct {
	AccountID     string      `json:"account_id"`
	EmailID       string      `json:"email_id"`
	FromAddress   string      `json:"from_address"`
	FromDomain    string      `json:"from_domain"`
	Subject       string      `json:"subject"`
	AISuggestion  mail.Folder `json:"ai_suggestion"`
	UserChoice    mail.Folder `json:"user_choice"`
	WasCorrection bool        `json:"was_correction"`
	Source        string      `json:"source"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Sender rule lifecycle constants. A new rule starts at 0.8 and climbs
// by 0.05 per repeat correction, capped at 0.95; auto-apply turns on at
// three corrections.
const (
	RuleInitialConfidence = 0.8
	RuleConfidenceStep    = 0.05
	RuleMaxConfidence     = 0.95
	RuleAutoApplyCount    = 3
)

// SenderRule is a learned domain-to-folder mapping, one per
// (account, domain).
type SenderRule struct {
	AccountID       string      `json:"account_id"`
	Pattern         string      `json:"pattern"`
	PatternType     string      `json:"pattern_type"` // always "domain"
	TargetFolder    mail.Folder `json:"target_folder"`
	Confidence      float64     `json:"confidence"`
	CorrectionCount int         `json:"correction_count"`
	AutoApply       bool        `json:"auto_apply"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ConfusedPattern aggregates dismissals per (patternType, patternValue)
// to surface what the model keeps getting wrong.
type ConfusedPattern struct {
	PatternType    string    `json:"pattern_type"` // "domain" or "subject"
	PatternValue   string    `json:"pattern_value"`
	DismissalCount int       `json:"dismissal_count"`
	AvgConfidence  float64   `json:"avg_confidence"`
	LastSeen       time.Time `json:"last_seen"`
}

// FeedbackAction labels a review signal with its fixed accuracy score.
type FeedbackAction string

const (
	ActionAccept     FeedbackAction = "accept"
	ActionAcceptEdit FeedbackAction = "accept_edit"
	ActionDismiss    FeedbackAction = "dismiss"
	ActionReclassify FeedbackAction = "reclassify"
)

// Score returns the fixed accuracy score for the action.
func (a FeedbackAction) Score() float64 {
	switch a {
	case ActionAccept:
		return 1.0
	case ActionAcceptEdit:
		return 0.98
	case ActionDismiss:
		return 0.0
	case ActionReclassify:
		return 0.5
	}
	return 0
}

// Feedback is one append-only accuracy record per review signal.
type Feedback struct {
	EmailID       string         `json:"email_id"`
	AccountID     string         `json:"account_id"`
	Action        FeedbackAction `json:"action"`
	AccuracyScore float64        `json:"accuracy_score"`
	Suggested     mail.Folder    `json:"suggested,omitempty"`
	Chosen        mail.Folder    `json:"chosen,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SnoozeReason records why an email was snoozed.
type SnoozeReason string

const (
	SnoozeShipping     SnoozeReason = "shipping"
	SnoozeWaitingReply SnoozeReason = "waiting_reply"
	SnoozeManual       SnoozeReason = "manual"
)

// Snooze defers an email's return to its original folder.
type Snooze struct {
	EmailID        string       `json:"email_id"`
	SnoozeUntil    time.Time    `json:"snooze_until"`
	OriginalFolder mail.Folder  `json:"original_folder"`
	Reason         SnoozeReason `json:"reason"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Result is the outcome of one orchestrator run.
type Result struct {
	EmailID       string      `json:"email_id"`
	Folder        mail.Folder `json:"folder"`
	Confidence    float64     `json:"confidence"`
	Reasoning     string      `json:"reasoning,omitempty"`
	PatternFolder mail.Folder `json:"pattern_folder,omitempty"`
	PatternAgreed bool        `json:"pattern_agreed"`
	Moved         bool        `json:"moved"`
}

// BatchResult counts the outcomes of one classification batch.
// Classified + Skipped + Failed always equals the batch input size.
type BatchResult struct {
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}
