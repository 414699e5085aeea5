package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/tasks"
)

// Notifier receives batch completion summaries.
type Notifier interface {
	BatchComplete(ctx context.Context, summary *BatchSummary) error
}

// BatchSummary is what a completed batch reports outward.
type BatchSummary struct {
	TaskID   string      `json:"task_id"`
	Result   BatchResult `json:"result"`
	Duration float64     `json:"duration_seconds"`
}

// Options tunes a Service.
type Options struct {
	// Threshold is the confidence cutoff for auto-applying a verdict.
	Threshold float64

	// Workers bounds concurrent classifier calls per batch.
	Workers int

	// Metrics and Notifier are optional.
	Metrics  *Metrics
	Notifier Notifier
}

// Service is the business boundary for triage operations: batches,
// review actions, learning, and snoozes.
type Service struct {
	store     Store
	source    EmailSource
	engine    *Engine
	gate      *Gate
	budget    BudgetSource
	runner    *tasks.Runner
	mover     Mover
	logger    log.Logger
	metrics   *Metrics
	notifier  Notifier
	threshold float64
	workers   int
}

// NewService creates a triage service.
func NewService(store Store, source EmailSource, engine *Engine, gate *Gate, budget BudgetSource, runner *tasks.Runner, mover Mover, logger log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Service{
		store:     store,
		source:    source,
		engine:    engine,
		gate:      gate,
		budget:    budget,
		runner:    runner,
		mover:     mover,
		logger:    logger,
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
		threshold: opts.Threshold,
		workers:   opts.Workers,
	}
}

// Threshold returns the configured confidence cutoff.
func (s *Service) Threshold() float64 { return s.threshold }

// ClassifyBatch starts a fire-and-forget background batch over the
// candidate ids and returns its task id immediately. Progress and
// outcome are observable through the task runner.
func (s *Service) ClassifyBatch(ctx context.Context, ids []string) string {
	taskID := ulid.Make().String()
	s.runner.Start(ctx, taskID, len(ids), func(ctx context.Context, onProgress func()) error {
		return s.runBatch(ctx, taskID, ids, onProgress)
	})
	return taskID
}

func (s *Service) runBatch(ctx context.Context, taskID string, ids []string, onProgress func()) error {
	start := time.Now()
	L := s.logger.With("task_id", taskID)

	admitted, skipped, err := s.gate.Plan(ctx, ids)
	if err != nil {
		return fmt.Errorf("budget plan: %w", err)
	}
	for range skipped {
		onProgress()
	}

	var (
		mu  sync.Mutex
		res = BatchResult{Skipped: skipped}
	)

	// Keep at most s.workers classifier calls in flight; launch a
	// replacement as each one completes. Admission order is recency
	// order from the gate; completion order is not guaranteed.
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, em := range admitted {
		sem <- struct{}{}
		wg.Add(1)
		go func(em *mail.Email) {
			defer wg.Done()
			defer func() { <-sem }()
			defer onProgress()

			// Re-check the budget immediately before this item's
			// classification so mid-batch exhaustion skips only the
			// remaining items.
			if b, err := s.budget.EmailBudget(ctx); err == nil && b.Exhausted() {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return
			}

			if s.classifyOne(ctx, em.ID) {
				mu.Lock()
				res.Classified++
				mu.Unlock()
			} else {
				mu.Lock()
				res.Failed++
				mu.Unlock()
			}
		}(em)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	if s.metrics != nil {
		s.metrics.ObserveBatch(&res, duration)
	}
	L.Info(ctx, "classification batch finished",
		"classified", res.Classified,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", duration,
	)

	if s.notifier != nil {
		summary := &BatchSummary{TaskID: taskID, Result: res, Duration: duration}
		if err := s.notifier.BatchComplete(ctx, summary); err != nil {
			L.Error(ctx, err, "batch notification failed")
		}
	}
	return nil
}

// classifyOne runs the pipeline for one email and records the outcome.
// Failures are recorded as error state and never propagate; the batch
// continues with its siblings.
func (s *Service) classifyOne(ctx context.Context, emailID string) bool {
	res, err := s.engine.TriageAndMove(ctx, emailID, s.threshold)
	if err != nil {
		s.logger.Error(ctx, err, "classification failed", "email_id", emailID)
		s.recordFailure(ctx, emailID, err)
		return false
	}
	if err := s.recordResult(ctx, res); err != nil {
		s.logger.Error(ctx, err, "failed to record classification state", "email_id", emailID)
		return false
	}
	return true
}

// recordResult persists the post-pipeline state. Stale review flags
// never survive a fresh classification.
func (s *Service) recordResult(ctx context.Context, res *Result) error {
	status := StatusPendingReview
	if res.Confidence >= s.threshold {
		status = StatusClassified
	}
	now := time.Now()
	conf := res.Confidence
	prio := PriorityFor(conf)
	folder := res.Folder
	st := &State{
		EmailID:         res.EmailID,
		Status:          status,
		Confidence:      &conf,
		Priority:        &prio,
		SuggestedFolder: &folder,
		Reasoning:       res.Reasoning,
		ClassifiedAt:    &now,
	}
	if err := s.store.PutState(ctx, st); err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// recordFailure marks the email's state as error with the failure text,
// preserving the rest of the record.
func (s *Service) recordFailure(ctx context.Context, emailID string, cause error) {
	st, ok, err := s.store.GetState(ctx, emailID)
	if err != nil || !ok {
		st = &State{EmailID: emailID}
	}
	st.Status = StatusError
	st.ErrorMessage = cause.Error()
	if err := s.store.PutState(ctx, st); err != nil {
		s.logger.Error(ctx, err, "failed to record error state", "email_id", emailID)
	}
}

// Retry re-enters the pipeline for a failed email with the configured
// threshold. Unlike batch items, the failure is returned to the caller.
func (s *Service) Retry(ctx context.Context, emailID string) (*Result, error) {
	res, err := s.engine.TriageAndMove(ctx, emailID, s.threshold)
	if err != nil {
		s.recordFailure(ctx, emailID, err)
		return nil, err
	}
	if err := s.recordResult(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Reclassify resets the email's state to unprocessed, re-runs the
// pipeline, and logs an uncertainty feedback record when the fresh
// verdict differs from the previous suggestion.
func (s *Service) Reclassify(ctx context.Context, emailID string) (*Result, error) {
	prev, ok, err := s.store.GetState(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}

	// Clear all derived fields before re-running the pipeline.
	if err := s.store.PutState(ctx, &State{EmailID: emailID, Status: StatusUnprocessed}); err != nil {
		return nil, fmt.Errorf("reset state: %w", err)
	}

	res, err := s.Retry(ctx, emailID)
	if err != nil {
		return nil, err
	}

	if ok && prev.SuggestedFolder != nil && *prev.SuggestedFolder != res.Folder {
		em, found, err := s.source.GetEmail(ctx, emailID)
		if err != nil || !found {
			return res, nil
		}
		fb := &Feedback{
			EmailID:       emailID,
			AccountID:     em.AccountID,
			Action:        ActionReclassify,
			AccuracyScore: ActionReclassify.Score(),
			Suggested:     *prev.SuggestedFolder,
			Chosen:        res.Folder,
			CreatedAt:     time.Now(),
		}
		if err := s.store.AddFeedback(ctx, fb); err != nil {
			s.logger.Error(ctx, err, "failed to record reclassify feedback", "email_id", emailID)
		} else if s.metrics != nil {
			s.metrics.IncFeedback(ActionReclassify)
		}
	}
	return res, nil
}

// State returns the classification record for one email.
func (s *Service) State(ctx context.Context, emailID string) (*State, bool, error) {
	return s.store.GetState(ctx, emailID)
}

// ReviewQueue lists emails waiting for human review.
func (s *Service) ReviewQueue(ctx context.Context) ([]*State, error) {
	return s.store.ListStatesByStatus(ctx, StatusPendingReview)
}

// FailedQueue lists emails whose pipeline run failed.
func (s *Service) FailedQueue(ctx context.Context) ([]*State, error) {
	return s.store.ListStatesByStatus(ctx, StatusError)
}

// ConfusedPatterns lists aggregate dismissal signals for diagnostics.
func (s *Service) ConfusedPatterns(ctx context.Context, minDismissals int) ([]*ConfusedPattern, error) {
	return s.store.ListConfusedPatterns(ctx, minDismissals)
}
