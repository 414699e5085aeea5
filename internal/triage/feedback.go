package triage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
)

// Accept confirms the suggested folder. Scored 1.0.
func (s *Service) Accept(ctx context.Context, emailID string) error {
	return s.accept(ctx, emailID, "")
}

// AcceptWithFolder confirms the classification but files the email in a
// folder of the user's choosing. Picking a different folder than the
// suggestion scores 0.98, moves the message with a user-override audit
// entry, and feeds the correction into the learning loop.
func (s *Service) AcceptWithFolder(ctx context.Context, emailID string, folder mail.Folder) error {
	if !folder.Valid() {
		return fmt.Errorf("accept %s: unknown folder %q", emailID, folder)
	}
	return s.accept(ctx, emailID, folder)
}

func (s *Service) accept(ctx context.Context, emailID string, chosen mail.Folder) error {
	st, ok, err := s.store.GetState(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	if !ok || st.SuggestedFolder == nil {
		return fmt.Errorf("classification for email %s: %w", emailID, ErrNotFound)
	}
	suggested := *st.SuggestedFolder

	em, ok, err := s.source.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get email: %w", err)
	}
	if !ok {
		return fmt.Errorf("email %s: %w", emailID, ErrNotFound)
	}

	action := ActionAccept
	edited := chosen != "" && chosen != suggested
	if edited {
		action = ActionAcceptEdit
		if err := s.moveOverride(ctx, em, st, chosen); err != nil {
			return err
		}
		if err := s.learnFromCorrection(ctx, em, suggested, chosen); err != nil {
			s.logger.Error(ctx, err, "failed to learn from correction", "email_id", emailID)
		}
	}

	now := time.Now()
	st.Status = StatusAccepted
	st.ReviewedAt = &now
	if err := s.store.PutState(ctx, st); err != nil {
		return fmt.Errorf("put state: %w", err)
	}

	fb := &Feedback{
		EmailID:       emailID,
		AccountID:     em.AccountID,
		Action:        action,
		AccuracyScore: action.Score(),
		Suggested:     suggested,
		Chosen:        suggested,
		CreatedAt:     now,
	}
	if edited {
		fb.Chosen = chosen
	}
	if err := s.store.AddFeedback(ctx, fb); err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncFeedback(action)
	}
	return nil
}

// Dismiss rejects the suggestion. Scored 0.0, and the sender domain
// (plus a subject template when one is recognizable) is counted toward
// the confused-pattern aggregates. User-override moves never touch
// those aggregates; only dismissal does.
func (s *Service) Dismiss(ctx context.Context, emailID string) error {
	st, ok, err := s.store.GetState(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	if !ok || st.SuggestedFolder == nil {
		return fmt.Errorf("classification for email %s: %w", emailID, ErrNotFound)
	}

	em, ok, err := s.source.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get email: %w", err)
	}
	if !ok {
		return fmt.Errorf("email %s: %w", emailID, ErrNotFound)
	}

	now := time.Now()
	st.Status = StatusDismissed
	st.DismissedAt = &now
	if err := s.store.PutState(ctx, st); err != nil {
		return fmt.Errorf("put state: %w", err)
	}

	fb := &Feedback{
		EmailID:       emailID,
		AccountID:     em.AccountID,
		Action:        ActionDismiss,
		AccuracyScore: ActionDismiss.Score(),
		Suggested:     *st.SuggestedFolder,
		CreatedAt:     now,
	}
	if err := s.store.AddFeedback(ctx, fb); err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}

	confidence := 0.0
	if st.Confidence != nil {
		confidence = *st.Confidence
	}
	if domain := em.FromDomain(); domain != "" {
		if err := s.bumpConfusedPattern(ctx, "domain", domain, confidence, now); err != nil {
			s.logger.Error(ctx, err, "failed to update confused pattern", "domain", domain)
		}
	}
	if tmpl, ok := detectSubjectTemplate(em.Subject); ok {
		if err := s.bumpConfusedPattern(ctx, "subject", tmpl, confidence, now); err != nil {
			s.logger.Error(ctx, err, "failed to update confused pattern", "subject_template", tmpl)
		}
	}
	if s.metrics != nil {
		s.metrics.IncFeedback(ActionDismiss)
	}
	return nil
}

// BulkOutcome counts per-item results of a bulk review action.
type BulkOutcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BulkAccept applies Accept to each id independently. One failure does
// not abort the batch; it counts toward Failed.
func (s *Service) BulkAccept(ctx context.Context, ids []string) BulkOutcome {
	var out BulkOutcome
	for _, id := range ids {
		if err := s.Accept(ctx, id); err != nil {
			s.logger.Error(ctx, err, "bulk accept item failed", "email_id", id)
			out.Failed++
			continue
		}
		out.Succeeded++
	}
	return out
}

// BulkDismiss applies Dismiss to each id independently.
func (s *Service) BulkDismiss(ctx context.Context, ids []string) BulkOutcome {
	var out BulkOutcome
	for _, id := range ids {
		if err := s.Dismiss(ctx, id); err != nil {
			s.logger.Error(ctx, err, "bulk dismiss item failed", "email_id", id)
			out.Failed++
			continue
		}
		out.Succeeded++
	}
	return out
}

// moveOverride performs a user-driven move and appends the
// user-override audit entry. Override entries never feed confused
// patterns or training examples on their own.
func (s *Service) moveOverride(ctx context.Context, em *mail.Email, st *State, to mail.Folder) error {
	acct, ok, err := s.source.GetAccount(ctx, em.AccountID)
	if err != nil {
		return fmt.Errorf("get account %s: %w", em.AccountID, err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", em.AccountID, ErrNotFound)
	}
	if em.Folder != to {
		if err := s.mover.MoveMessage(ctx, acct, em.UID, em.Folder, to); err != nil {
			return fmt.Errorf("move message %s: %w", em.ID, err)
		}
		if err := s.source.UpdateEmailFolder(ctx, em.ID, to); err != nil {
			return fmt.Errorf("update folder index %s: %w", em.ID, err)
		}
	}

	confidence := 0.0
	if st.Confidence != nil {
		confidence = *st.Confidence
	}
	entry := &LogEntry{
		EmailID:       em.ID,
		AccountID:     em.AccountID,
		LLMFolder:     *st.SuggestedFolder,
		LLMConfidence: confidence,
		FinalFolder:   to,
		Source:        SourceUserOverride,
		CreatedAt:     time.Now(),
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("append override log: %w", err)
	}
	return nil
}

// learnFromCorrection writes a training example and upserts the sender
// rule for the email's domain per the promotion lifecycle.
func (s *Service) learnFromCorrection(ctx context.Context, em *mail.Email, suggested, chosen mail.Folder) error {
	now := time.Now()
	ex := &TrainingExample{
		AccountID:     em.AccountID,
		EmailID:       em.ID,
		FromAddress:   em.From,
		FromDomain:    em.FromDomain(),
		Subject:       em.Subject,
		AISuggestion:  suggested,
		UserChoice:    chosen,
		WasCorrection: suggested != chosen,
		Source:        "user_correction",
		CreatedAt:     now,
	}
	if err := s.store.AddTrainingExample(ctx, ex); err != nil {
		return fmt.Errorf("add training example: %w", err)
	}

	domain := em.FromDomain()
	if domain == "" {
		return nil
	}
	rule, ok, err := s.store.GetSenderRule(ctx, em.AccountID, domain)
	if err != nil {
		return fmt.Errorf("get sender rule: %w", err)
	}
	switch {
	case !ok:
		rule = &SenderRule{
			AccountID:       em.AccountID,
			Pattern:         domain,
			PatternType:     "domain",
			TargetFolder:    chosen,
			Confidence:      RuleInitialConfidence,
			CorrectionCount: 1,
			CreatedAt:       now,
		}
	case rule.TargetFolder == chosen:
		rule.CorrectionCount++
		rule.Confidence = min(rule.Confidence+RuleConfidenceStep, RuleMaxConfidence)
		if rule.CorrectionCount >= RuleAutoApplyCount {
			rule.AutoApply = true
		}
	default:
		// Correction to a different folder replaces the rule.
		rule.TargetFolder = chosen
		rule.CorrectionCount = 1
		rule.Confidence = RuleInitialConfidence
		rule.AutoApply = false
	}
	rule.UpdatedAt = now
	if err := s.store.PutSenderRule(ctx, rule); err != nil {
		return fmt.Errorf("put sender rule: %w", err)
	}
	if s.metrics != nil && rule.AutoApply && rule.CorrectionCount == RuleAutoApplyCount {
		s.metrics.IncRulePromotion()
	}
	return nil
}

func (s *Service) bumpConfusedPattern(ctx context.Context, patternType, value string, confidence float64, now time.Time) error {
	cp, ok, err := s.store.GetConfusedPattern(ctx, patternType, value)
	if err != nil {
		return fmt.Errorf("get confused pattern: %w", err)
	}
	if !ok {
		cp = &ConfusedPattern{PatternType: patternType, PatternValue: value}
	}
	total := cp.AvgConfidence*float64(cp.DismissalCount) + confidence
	cp.DismissalCount++
	cp.AvgConfidence = total / float64(cp.DismissalCount)
	cp.LastSeen = now
	if err := s.store.PutConfusedPattern(ctx, cp); err != nil {
		return fmt.Errorf("put confused pattern: %w", err)
	}
	return nil
}

var (
	subjectNumbers    = regexp.MustCompile(`\d+`)
	subjectWhitespace = regexp.MustCompile(`\s+`)
)

// detectSubjectTemplate normalizes a subject into a template by
// collapsing numeric runs, e.g. "Order #48213 shipped" becomes
// "order #{n} shipped". Subjects without numbers have no template.
func detectSubjectTemplate(subject string) (string, bool) {
	trimmed := strings.TrimSpace(strings.ToLower(subject))
	if trimmed == "" || !subjectNumbers.MatchString(trimmed) {
		return "", false
	}
	tmpl := subjectNumbers.ReplaceAllString(trimmed, "{n}")
	tmpl = subjectWhitespace.ReplaceAllString(tmpl, " ")
	return tmpl, true
}
