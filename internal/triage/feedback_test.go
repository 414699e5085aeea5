package triage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/triage"
)

// seedClassified seeds an email plus a pending-review classification
// suggesting the given folder.
func seedClassified(t *testing.T, f *fixture, emailID string, suggested mail.Folder, confidence float64) {
	t.Helper()
	f.seedEmail(emailID, mail.FolderInbox, time.Now())
	now := time.Now()
	prio := triage.PriorityFor(confidence)
	if err := f.store.PutState(context.Background(), &triage.State{
		EmailID:         emailID,
		Status:          triage.StatusPendingReview,
		Confidence:      &confidence,
		Priority:        &prio,
		SuggestedFolder: &suggested,
		ClassifiedAt:    &now,
	}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
}

func TestAccept_ScoresFullMarks(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderNewsletters, 0.75)

	if err := f.svc.Accept(context.Background(), "em-1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	st, _, _ := f.svc.State(context.Background(), "em-1")
	if st.Status != triage.StatusAccepted {
		t.Errorf("Status = %q, want accepted", st.Status)
	}
	if st.ReviewedAt == nil {
		t.Error("ReviewedAt not set")
	}

	fbs := f.store.Feedback()
	if len(fbs) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(fbs))
	}
	if fbs[0].Action != triage.ActionAccept || fbs[0].AccuracyScore != 1.0 {
		t.Errorf("feedback = %q/%v, want accept/1.0", fbs[0].Action, fbs[0].AccuracyScore)
	}
	// a plain accept never touches the mailbox
	if f.mover.moveCount() != 0 {
		t.Errorf("moves = %d, want 0", f.mover.moveCount())
	}
}

func TestAccept_MissingClassification(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	if err := f.svc.Accept(context.Background(), "no-such"); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAcceptWithFolder_SameAsSuggestionIsPlainAccept(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderReceipts, 0.7)

	if err := f.svc.AcceptWithFolder(context.Background(), "em-1", mail.FolderReceipts); err != nil {
		t.Fatalf("AcceptWithFolder: %v", err)
	}
	fbs := f.store.Feedback()
	if len(fbs) != 1 || fbs[0].Action != triage.ActionAccept {
		t.Errorf("feedback = %v, want single plain accept", fbs)
	}
	if f.mover.moveCount() != 0 {
		t.Errorf("moves = %d, want 0", f.mover.moveCount())
	}
}

func TestAcceptWithFolder_CorrectionMovesAndLearns(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderJunk, 0.72)

	if err := f.svc.AcceptWithFolder(context.Background(), "em-1", mail.FolderNewsletters); err != nil {
		t.Fatalf("AcceptWithFolder: %v", err)
	}

	// scored as an edited accept
	fbs := f.store.Feedback()
	if len(fbs) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(fbs))
	}
	if fbs[0].Action != triage.ActionAcceptEdit || fbs[0].AccuracyScore != 0.98 {
		t.Errorf("feedback = %q/%v, want accept_edit/0.98", fbs[0].Action, fbs[0].AccuracyScore)
	}
	if fbs[0].Suggested != mail.FolderJunk || fbs[0].Chosen != mail.FolderNewsletters {
		t.Errorf("feedback folders = %q -> %q, want junk -> newsletters", fbs[0].Suggested, fbs[0].Chosen)
	}

	// the message moved to the user's folder
	if f.mover.moveCount() != 1 {
		t.Fatalf("moves = %d, want 1", f.mover.moveCount())
	}
	em, _, _ := f.index.GetEmail(context.Background(), "em-1")
	if em.Folder != mail.FolderNewsletters {
		t.Errorf("index folder = %q, want newsletters", em.Folder)
	}

	// the correction became a training example
	exs, err := f.store.ListTrainingExamples(context.Background(), "acct-1", "sender@example.com", "example.com", 10)
	if err != nil {
		t.Fatalf("ListTrainingExamples: %v", err)
	}
	if len(exs) != 1 {
		t.Fatalf("training examples = %d, want 1", len(exs))
	}
	if !exs[0].WasCorrection || exs[0].UserChoice != mail.FolderNewsletters {
		t.Errorf("example = %+v, want correction to newsletters", exs[0])
	}

	// and seeded a sender rule at the initial confidence
	rule, ok, err := f.store.GetSenderRule(context.Background(), "acct-1", "example.com")
	if err != nil || !ok {
		t.Fatalf("GetSenderRule: ok=%v err=%v", ok, err)
	}
	if rule.Confidence != triage.RuleInitialConfidence || rule.CorrectionCount != 1 || rule.AutoApply {
		t.Errorf("rule = %+v, want confidence 0.8, count 1, no auto-apply", rule)
	}
}

func TestAcceptWithFolder_UnknownFolderRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderJunk, 0.7)

	if err := f.svc.AcceptWithFolder(context.Background(), "em-1", "whatever"); err == nil {
		t.Fatal("expected error for unknown folder")
	}
}

func TestSenderRule_PromotesAfterThreeCorrections(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})

	for i, id := range []string{"em-1", "em-2", "em-3"} {
		seedClassified(t, f, id, mail.FolderJunk, 0.7)
		if err := f.svc.AcceptWithFolder(context.Background(), id, mail.FolderNewsletters); err != nil {
			t.Fatalf("correction %d: %v", i+1, err)
		}
	}

	rule, ok, err := f.store.GetSenderRule(context.Background(), "acct-1", "example.com")
	if err != nil || !ok {
		t.Fatalf("GetSenderRule: ok=%v err=%v", ok, err)
	}
	if rule.CorrectionCount != 3 {
		t.Errorf("CorrectionCount = %d, want 3", rule.CorrectionCount)
	}
	if !rule.AutoApply {
		t.Error("AutoApply = false, want true after three corrections")
	}
	// 0.8 + 0.05 + 0.05
	if rule.Confidence < 0.899 || rule.Confidence > 0.901 {
		t.Errorf("Confidence = %v, want 0.9", rule.Confidence)
	}
}

func TestSenderRule_ConfidenceCapped(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	for i := range 6 {
		id := string(rune('a' + i))
		seedClassified(t, f, id, mail.FolderJunk, 0.7)
		if err := f.svc.AcceptWithFolder(context.Background(), id, mail.FolderNewsletters); err != nil {
			t.Fatalf("correction %d: %v", i+1, err)
		}
	}

	rule, _, _ := f.store.GetSenderRule(context.Background(), "acct-1", "example.com")
	if rule.Confidence > triage.RuleMaxConfidence {
		t.Errorf("Confidence = %v, want capped at %v", rule.Confidence, triage.RuleMaxConfidence)
	}
}

func TestSenderRule_ResetOnDifferentFolder(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	for i, id := range []string{"em-1", "em-2", "em-3"} {
		seedClassified(t, f, id, mail.FolderJunk, 0.7)
		if err := f.svc.AcceptWithFolder(context.Background(), id, mail.FolderNewsletters); err != nil {
			t.Fatalf("correction %d: %v", i+1, err)
		}
	}

	// a correction toward a different folder replaces the rule entirely
	seedClassified(t, f, "em-4", mail.FolderJunk, 0.7)
	if err := f.svc.AcceptWithFolder(context.Background(), "em-4", mail.FolderReceipts); err != nil {
		t.Fatalf("diverging correction: %v", err)
	}

	rule, _, _ := f.store.GetSenderRule(context.Background(), "acct-1", "example.com")
	if rule.TargetFolder != mail.FolderReceipts {
		t.Errorf("TargetFolder = %q, want receipts", rule.TargetFolder)
	}
	if rule.CorrectionCount != 1 || rule.AutoApply {
		t.Errorf("rule = %+v, want count reset to 1 and auto-apply off", rule)
	}
	if rule.Confidence != triage.RuleInitialConfidence {
		t.Errorf("Confidence = %v, want reset to %v", rule.Confidence, triage.RuleInitialConfidence)
	}
}

func TestDismiss_ScoresZeroAndTracksConfusion(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	f.seedEmail("em-1", mail.FolderInbox, time.Now())
	em, _, _ := f.index.GetEmail(context.Background(), "em-1")
	em.Subject = "Order #48213 shipped"
	f.index.PutEmail(em)

	conf := 0.82
	folder := mail.FolderShipping
	if err := f.store.PutState(context.Background(), &triage.State{
		EmailID:         "em-1",
		Status:          triage.StatusPendingReview,
		Confidence:      &conf,
		SuggestedFolder: &folder,
	}); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	if err := f.svc.Dismiss(context.Background(), "em-1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	st, _, _ := f.svc.State(context.Background(), "em-1")
	if st.Status != triage.StatusDismissed || st.DismissedAt == nil {
		t.Errorf("state = %+v, want dismissed with timestamp", st)
	}

	fbs := f.store.Feedback()
	if len(fbs) != 1 || fbs[0].AccuracyScore != 0.0 {
		t.Errorf("feedback = %v, want single 0.0 record", fbs)
	}

	// both the domain and the subject template were counted
	cps, err := f.store.ListConfusedPatterns(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListConfusedPatterns: %v", err)
	}
	byKey := map[string]*triage.ConfusedPattern{}
	for _, cp := range cps {
		byKey[cp.PatternType+"/"+cp.PatternValue] = cp
	}
	if cp := byKey["domain/example.com"]; cp == nil || cp.DismissalCount != 1 {
		t.Errorf("domain pattern = %+v, want one dismissal for example.com", cp)
	}
	if cp := byKey["subject/order #{n} shipped"]; cp == nil {
		t.Errorf("subject pattern missing, got %v", cps)
	} else if cp.AvgConfidence != 0.82 {
		t.Errorf("AvgConfidence = %v, want 0.82", cp.AvgConfidence)
	}
}

func TestDismiss_RepeatAveragesConfidence(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	for i, c := range []float64{0.6, 0.8} {
		id := []string{"em-1", "em-2"}[i]
		seedClassified(t, f, id, mail.FolderJunk, c)
		if err := f.svc.Dismiss(context.Background(), id); err != nil {
			t.Fatalf("Dismiss %s: %v", id, err)
		}
	}

	cp, ok, err := f.store.GetConfusedPattern(context.Background(), "domain", "example.com")
	if err != nil || !ok {
		t.Fatalf("GetConfusedPattern: ok=%v err=%v", ok, err)
	}
	if cp.DismissalCount != 2 {
		t.Errorf("DismissalCount = %d, want 2", cp.DismissalCount)
	}
	if cp.AvgConfidence < 0.699 || cp.AvgConfidence > 0.701 {
		t.Errorf("AvgConfidence = %v, want 0.7", cp.AvgConfidence)
	}
}

func TestBulkAccept_ItemsIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderArchive, 0.7)
	seedClassified(t, f, "em-2", mail.FolderArchive, 0.7)

	out := f.svc.BulkAccept(context.Background(), []string{"em-1", "no-such", "em-2"})
	if out.Succeeded != 2 || out.Failed != 1 {
		t.Errorf("outcome = %+v, want 2 succeeded, 1 failed", out)
	}

	for _, id := range []string{"em-1", "em-2"} {
		st, _, _ := f.svc.State(context.Background(), id)
		if st.Status != triage.StatusAccepted {
			t.Errorf("State(%s) = %q, want accepted", id, st.Status)
		}
	}
}

func TestBulkDismiss_ItemsIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(fixtureOpts{})
	seedClassified(t, f, "em-1", mail.FolderArchive, 0.7)

	out := f.svc.BulkDismiss(context.Background(), []string{"em-1", "no-such"})
	if out.Succeeded != 1 || out.Failed != 1 {
		t.Errorf("outcome = %+v, want 1 succeeded, 1 failed", out)
	}
}
