package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sift/internal/mail"
)

// MaxTrainingExamples caps the few-shot context per classifier call.
const MaxTrainingExamples = 10

// EngineHooks are optional observation points, wired to metrics by main.
type EngineHooks struct {
	// OnClassify fires after every classifier call with its duration.
	OnClassify func(duration float64, err error)

	// OnVerdict fires once per completed pipeline run.
	OnVerdict func(folder mail.Folder, confidence float64, patternAgreed, moved bool)
}

// Engine runs the per-email decision pipeline: load, pattern match,
// gather training examples, classify, audit, conditionally move.
type Engine struct {
	source     EmailSource
	matcher    PatternMatcher
	classifier Classifier
	mover      Mover
	store      Store
	logger     log.Logger
	hooks      EngineHooks
}

// NewEngine creates a triage engine with the given collaborators.
func NewEngine(source EmailSource, matcher PatternMatcher, classifier Classifier, mover Mover, store Store, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		source:     source,
		matcher:    matcher,
		classifier: classifier,
		mover:      mover,
		store:      store,
		logger:     logger,
		hooks:      hooks,
	}
}

// TriageAndMove runs the pipeline for one email and, when the verdict
// clears the threshold and the email is not already in the target
// folder, moves it. The audit log entry is appended unconditionally,
// move or not. The verdict is returned even when no move occurs.
func (e *Engine) TriageAndMove(ctx context.Context, emailID string, threshold float64) (*Result, error) {
	em, ok, err := e.source.GetEmail(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", emailID, err)
	}
	if !ok {
		return nil, fmt.Errorf("email %s: %w", emailID, ErrNotFound)
	}

	L := e.logger.With("email_id", em.ID, "account_id", em.AccountID)

	// Pattern matching is free and always runs first; the hint is fed
	// to the classifier and the agreement signal lands in the audit log.
	hint := e.matcher.Match(ctx, em)

	examples, err := e.store.ListTrainingExamples(ctx, em.AccountID, em.From, em.FromDomain(), MaxTrainingExamples)
	if err != nil {
		return nil, fmt.Errorf("list training examples: %w", err)
	}

	start := time.Now()
	verdict, err := e.classifier.Classify(ctx, &ClassifyRequest{Email: em, Hint: hint, Examples: examples})
	if e.hooks.OnClassify != nil {
		e.hooks.OnClassify(time.Since(start).Seconds(), err)
	}
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if !verdict.Folder.Valid() {
		return nil, fmt.Errorf("classify: unknown folder %q", verdict.Folder)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	agreed := hint.Matched() && hint.Folder == verdict.Folder

	// Audit unconditionally so disagreement is preserved as a learning
	// signal even when no move happens.
	entry := &LogEntry{
		EmailID:       em.ID,
		AccountID:     em.AccountID,
		PatternFolder: hint.Folder,
		LLMFolder:     verdict.Folder,
		LLMConfidence: verdict.Confidence,
		PatternAgreed: agreed,
		FinalFolder:   verdict.Folder,
		Source:        SourceLLM,
		Reasoning:     verdict.Reasoning,
		CreatedAt:     time.Now(),
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("append triage log: %w", err)
	}

	res := &Result{
		EmailID:       em.ID,
		Folder:        verdict.Folder,
		Confidence:    verdict.Confidence,
		Reasoning:     verdict.Reasoning,
		PatternFolder: hint.Folder,
		PatternAgreed: agreed,
	}

	if verdict.Confidence >= threshold && em.Folder != verdict.Folder {
		if err := e.move(ctx, em, verdict.Folder); err != nil {
			return nil, err
		}
		res.Moved = true
		L.Info(ctx, "email moved",
			"from", em.Folder,
			"to", verdict.Folder,
			"confidence", verdict.Confidence,
		)
	} else {
		L.Info(ctx, "verdict recorded without move",
			"folder", verdict.Folder,
			"confidence", verdict.Confidence,
			"threshold", threshold,
			"pattern_agreed", agreed,
		)
	}

	if e.hooks.OnVerdict != nil {
		e.hooks.OnVerdict(verdict.Folder, verdict.Confidence, agreed, res.Moved)
	}
	return res, nil
}

// move performs the remote folder move, then the local index update.
// The local update must never run before the remote move succeeds.
func (e *Engine) move(ctx context.Context, em *mail.Email, to mail.Folder) error {
	acct, ok, err := e.source.GetAccount(ctx, em.AccountID)
	if err != nil {
		return fmt.Errorf("get account %s: %w", em.AccountID, err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", em.AccountID, ErrNotFound)
	}
	if err := e.mover.MoveMessage(ctx, acct, em.UID, em.Folder, to); err != nil {
		return fmt.Errorf("move message %s: %w", em.ID, err)
	}
	if err := e.source.UpdateEmailFolder(ctx, em.ID, to); err != nil {
		return fmt.Errorf("update folder index %s: %w", em.ID, err)
	}
	return nil
}
