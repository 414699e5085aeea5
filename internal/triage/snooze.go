package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
)

// SnoozeEmail records the email's current folder, parks the message in
// the snoozed mailbox, and schedules its return.
func (s *Service) SnoozeEmail(ctx context.Context, emailID string, until time.Time, reason SnoozeReason) error {
	em, ok, err := s.source.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get email: %w", err)
	}
	if !ok {
		return fmt.Errorf("email %s: %w", emailID, ErrNotFound)
	}

	acct, ok, err := s.source.GetAccount(ctx, em.AccountID)
	if err != nil {
		return fmt.Errorf("get account %s: %w", em.AccountID, err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", em.AccountID, ErrNotFound)
	}

	sn := &Snooze{
		EmailID:        emailID,
		SnoozeUntil:    until,
		OriginalFolder: em.Folder,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if err := s.store.PutSnooze(ctx, sn); err != nil {
		return fmt.Errorf("put snooze: %w", err)
	}

	if em.Folder != mail.FolderSnoozed {
		if err := s.mover.MoveMessage(ctx, acct, em.UID, em.Folder, mail.FolderSnoozed); err != nil {
			return fmt.Errorf("move to snoozed: %w", err)
		}
		if err := s.source.UpdateEmailFolder(ctx, emailID, mail.FolderSnoozed); err != nil {
			return fmt.Errorf("update folder index: %w", err)
		}
	}
	return nil
}

// Unsnooze restores the email to its original folder immediately and
// drops the snooze record.
func (s *Service) Unsnooze(ctx context.Context, emailID string) error {
	sn, ok, err := s.store.GetSnooze(ctx, emailID)
	if err != nil {
		return fmt.Errorf("get snooze: %w", err)
	}
	if !ok {
		return fmt.Errorf("snooze for email %s: %w", emailID, ErrNotFound)
	}
	if _, err := s.restoreSnoozed(ctx, sn); err != nil {
		return err
	}
	return nil
}

// ProcessSnoozedEmails scans all due snoozes and restores each email to
// its original folder. Missing emails or accounts drop or skip the
// snooze silently; per-item errors are logged and never stop the scan.
// Returns the count successfully processed.
func (s *Service) ProcessSnoozedEmails(ctx context.Context) (int, error) {
	due, err := s.store.ListDueSnoozes(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("list due snoozes: %w", err)
	}

	processed := 0
	for _, sn := range due {
		restored, err := s.restoreSnoozed(ctx, sn)
		if err != nil {
			s.logger.Error(ctx, err, "failed to restore snoozed email", "email_id", sn.EmailID)
			continue
		}
		if !restored {
			continue
		}
		processed++
		if s.metrics != nil {
			s.metrics.IncSnoozeProcessed()
		}
	}
	return processed, nil
}

func (s *Service) restoreSnoozed(ctx context.Context, sn *Snooze) (bool, error) {
	em, ok, err := s.source.GetEmail(ctx, sn.EmailID)
	if err != nil {
		return false, fmt.Errorf("get email: %w", err)
	}
	if !ok {
		// The email is gone; a deleted message must not block the scan.
		if err := s.store.DeleteSnooze(ctx, sn.EmailID); err != nil {
			return false, fmt.Errorf("drop orphaned snooze: %w", err)
		}
		return false, nil
	}

	acct, ok, err := s.source.GetAccount(ctx, em.AccountID)
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", em.AccountID, err)
	}
	if !ok {
		return false, fmt.Errorf("account %s: %w", em.AccountID, ErrNotFound)
	}

	if em.Folder != sn.OriginalFolder {
		if err := s.mover.MoveMessage(ctx, acct, em.UID, em.Folder, sn.OriginalFolder); err != nil {
			return false, fmt.Errorf("move message %s: %w", em.ID, err)
		}
		if err := s.source.UpdateEmailFolder(ctx, em.ID, sn.OriginalFolder); err != nil {
			return false, fmt.Errorf("update folder index %s: %w", em.ID, err)
		}
	}
	if err := s.store.DeleteSnooze(ctx, sn.EmailID); err != nil {
		return false, fmt.Errorf("delete snooze: %w", err)
	}
	return true, nil
}
