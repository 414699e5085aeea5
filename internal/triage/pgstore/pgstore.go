// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const stateColumns = `email_id, status, confidence, priority, suggested_folder, reasoning,
	classified_at, reviewed_at, dismissed_at, error_message`

// GetState retrieves the classification state for an email.
func (s *Store) GetState(ctx context.Context, emailID string) (*triage.State, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetState", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + stateColumns + ` FROM classification_state WHERE email_id = $1`
	st, err := scanStateRow(s.pool.QueryRow(ctx, query, emailID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if st == nil {
		return nil, false, nil
	}
	return st, true, nil
}

// PutState inserts or replaces the whole state record for an email.
func (s *Store) PutState(ctx context.Context, st *triage.State) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutState", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var priority, folder *string
	if st.Priority != nil {
		p := string(*st.Priority)
		priority = &p
	}
	if st.SuggestedFolder != nil {
		f := string(*st.SuggestedFolder)
		folder = &f
	}

	query := `INSERT INTO classification_state (
		email_id, status, confidence, priority, suggested_folder, reasoning,
		classified_at, reviewed_at, dismissed_at, error_message
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (email_id) DO UPDATE SET
		status           = EXCLUDED.status,
		confidence       = EXCLUDED.confidence,
		priority         = EXCLUDED.priority,
		suggested_folder = EXCLUDED.suggested_folder,
		reasoning        = EXCLUDED.reasoning,
		classified_at    = EXCLUDED.classified_at,
		reviewed_at      = EXCLUDED.reviewed_at,
		dismissed_at     = EXCLUDED.dismissed_at,
		error_message    = EXCLUDED.error_message`

	_, err := s.pool.Exec(ctx, query,
		st.EmailID, string(st.Status), st.Confidence, priority, folder, st.Reasoning,
		st.ClassifiedAt, st.ReviewedAt, st.DismissedAt, st.ErrorMessage,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// ListStatesByStatus returns all states with the given status, ordered
// by email ID.
func (s *Store) ListStatesByStatus(ctx context.Context, status triage.Status) ([]*triage.State, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListStatesByStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + stateColumns + ` FROM classification_state WHERE status = $1 ORDER BY email_id`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var out []*triage.State
	for rows.Next() {
		st, err := scanStateRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return out, nil
}

// AppendLog inserts one audit row.
func (s *Store) AppendLog(ctx context.Context, entry *triage.LogEntry) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendLog", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO classification_log (email_id, account_id, pattern_folder, llm_folder,
			llm_confidence, pattern_agreed, final_folder, source, reasoning, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.EmailID, entry.AccountID, string(entry.PatternFolder), string(entry.LLMFolder),
		entry.LLMConfidence, entry.PatternAgreed, string(entry.FinalFolder), string(entry.Source),
		entry.Reasoning, entry.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// CountLogsSince counts audit rows created at or after the cutoff.
func (s *Store) CountLogsSince(ctx context.Context, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CountLogsSince", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM classification_log WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// AddTrainingExample inserts one training example row.
func (s *Store) AddTrainingExample(ctx context.Context, ex *triage.TrainingExample) error {
	ctx, span := tracer.Start(ctx, "pgstore.AddTrainingExample", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_examples (account_id, email_id, from_address, from_domain,
			subject, ai_suggestion, user_choice, was_correction, source, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ex.AccountID, ex.EmailID, ex.FromAddress, ex.FromDomain, ex.Subject,
		string(ex.AISuggestion), string(ex.UserChoice), ex.WasCorrection, ex.Source, ex.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert training example: %w", err)
	}
	return nil
}

// ListTrainingExamples returns up to limit examples matching the sender
// address or its domain, exact sender matches first, then newest first.
func (s *Store) ListTrainingExamples(ctx context.Context, accountID, fromAddress, fromDomain string, limit int) ([]*triage.TrainingExample, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListTrainingExamples", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT account_id, email_id, from_address, from_domain, subject,
			ai_suggestion, user_choice, was_correction, source, created_at
		 FROM training_examples
		 WHERE account_id = $1 AND (lower(from_address) = lower($2) OR lower(from_domain) = lower($3))
		 ORDER BY (lower(from_address) = lower($2)) DESC, created_at DESC
		 LIMIT $4`,
		accountID, fromAddress, fromDomain, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query training examples: %w", err)
	}
	defer rows.Close()

	var out []*triage.TrainingExample
	for rows.Next() {
		var (
			ex         triage.TrainingExample
			suggestion string
			choice     string
		)
		if err := rows.Scan(&ex.AccountID, &ex.EmailID, &ex.FromAddress, &ex.FromDomain,
			&ex.Subject, &suggestion, &choice, &ex.WasCorrection, &ex.Source, &ex.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan training example: %w", err)
		}
		ex.AISuggestion = mail.Folder(suggestion)
		ex.UserChoice = mail.Folder(choice)
		out = append(out, &ex)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate training examples: %w", err)
	}
	return out, nil
}

// AddFeedback inserts one feedback row.
func (s *Store) AddFeedback(ctx context.Context, fb *triage.Feedback) error {
	ctx, span := tracer.Start(ctx, "pgstore.AddFeedback", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (email_id, account_id, action, accuracy_score, suggested, chosen, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		fb.EmailID, fb.AccountID, string(fb.Action), fb.AccuracyScore,
		string(fb.Suggested), string(fb.Chosen), fb.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

const ruleColumns = `account_id, pattern, pattern_type, target_folder, confidence,
	correction_count, auto_apply, created_at, updated_at`

// GetSenderRule retrieves the rule for (account, domain).
func (s *Store) GetSenderRule(ctx context.Context, accountID, domain string) (*triage.SenderRule, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetSenderRule", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + ruleColumns + ` FROM sender_rules WHERE account_id = $1 AND pattern = $2`
	r, err := scanRuleRow(s.pool.QueryRow(ctx, query, accountID, domain))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// PutSenderRule inserts or replaces the rule for (account, domain).
func (s *Store) PutSenderRule(ctx context.Context, rule *triage.SenderRule) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutSenderRule", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	query := `INSERT INTO sender_rules (
		account_id, pattern, pattern_type, target_folder, confidence,
		correction_count, auto_apply, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (account_id, pattern) DO UPDATE SET
		pattern_type     = EXCLUDED.pattern_type,
		target_folder    = EXCLUDED.target_folder,
		confidence       = EXCLUDED.confidence,
		correction_count = EXCLUDED.correction_count,
		auto_apply       = EXCLUDED.auto_apply,
		updated_at       = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		rule.AccountID, rule.Pattern, rule.PatternType, string(rule.TargetFolder),
		rule.Confidence, rule.CorrectionCount, rule.AutoApply, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert sender rule: %w", err)
	}
	return nil
}

// ListAutoApplyRules returns all auto-apply rules for the account.
func (s *Store) ListAutoApplyRules(ctx context.Context, accountID string) ([]*triage.SenderRule, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAutoApplyRules", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + ruleColumns + ` FROM sender_rules WHERE account_id = $1 AND auto_apply ORDER BY pattern`
	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*triage.SenderRule
	for rows.Next() {
		r, err := scanRuleRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// GetConfusedPattern retrieves one aggregate row.
func (s *Store) GetConfusedPattern(ctx context.Context, patternType, patternValue string) (*triage.ConfusedPattern, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetConfusedPattern", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var cp triage.ConfusedPattern
	err := s.pool.QueryRow(ctx,
		`SELECT pattern_type, pattern_value, dismissal_count, avg_confidence, last_seen
		 FROM confused_patterns WHERE pattern_type = $1 AND pattern_value = $2`,
		patternType, patternValue,
	).Scan(&cp.PatternType, &cp.PatternValue, &cp.DismissalCount, &cp.AvgConfidence, &cp.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan confused pattern: %w", err)
	}
	return &cp, true, nil
}

// PutConfusedPattern inserts or replaces one aggregate row.
func (s *Store) PutConfusedPattern(ctx context.Context, cp *triage.ConfusedPattern) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutConfusedPattern", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO confused_patterns (pattern_type, pattern_value, dismissal_count, avg_confidence, last_seen)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (pattern_type, pattern_value) DO UPDATE SET
			dismissal_count = EXCLUDED.dismissal_count,
			avg_confidence  = EXCLUDED.avg_confidence,
			last_seen       = EXCLUDED.last_seen`,
		cp.PatternType, cp.PatternValue, cp.DismissalCount, cp.AvgConfidence, cp.LastSeen,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert confused pattern: %w", err)
	}
	return nil
}

// ListConfusedPatterns returns aggregates with at least minDismissals,
// most dismissed first.
func (s *Store) ListConfusedPatterns(ctx context.Context, minDismissals int) ([]*triage.ConfusedPattern, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListConfusedPatterns", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT pattern_type, pattern_value, dismissal_count, avg_confidence, last_seen
		 FROM confused_patterns WHERE dismissal_count >= $1
		 ORDER BY dismissal_count DESC, pattern_value`,
		minDismissals,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query confused patterns: %w", err)
	}
	defer rows.Close()

	var out []*triage.ConfusedPattern
	for rows.Next() {
		var cp triage.ConfusedPattern
		if err := rows.Scan(&cp.PatternType, &cp.PatternValue, &cp.DismissalCount, &cp.AvgConfidence, &cp.LastSeen); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan confused pattern: %w", err)
		}
		out = append(out, &cp)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate confused patterns: %w", err)
	}
	return out, nil
}

// PutSnooze inserts or replaces the snooze for an email.
func (s *Store) PutSnooze(ctx context.Context, sn *triage.Snooze) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutSnooze", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO snoozes (email_id, snooze_until, original_folder, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (email_id) DO UPDATE SET
			snooze_until    = EXCLUDED.snooze_until,
			original_folder = EXCLUDED.original_folder,
			reason          = EXCLUDED.reason`,
		sn.EmailID, sn.SnoozeUntil, string(sn.OriginalFolder), string(sn.Reason), sn.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert snooze: %w", err)
	}
	return nil
}

// GetSnooze retrieves the snooze for an email.
func (s *Store) GetSnooze(ctx context.Context, emailID string) (*triage.Snooze, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetSnooze", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	sn, err := scanSnoozeRow(s.pool.QueryRow(ctx,
		`SELECT email_id, snooze_until, original_folder, reason, created_at
		 FROM snoozes WHERE email_id = $1`, emailID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sn == nil {
		return nil, false, nil
	}
	return sn, true, nil
}

// DeleteSnooze removes the snooze for an email. Unknown IDs are a no-op.
func (s *Store) DeleteSnooze(ctx context.Context, emailID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.DeleteSnooze", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM snoozes WHERE email_id = $1`, emailID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete snooze: %w", err)
	}
	return nil
}

// ListDueSnoozes returns all snoozes due at or before now, earliest first.
func (s *Store) ListDueSnoozes(ctx context.Context, now time.Time) ([]*triage.Snooze, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListDueSnoozes", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT email_id, snooze_until, original_folder, reason, created_at
		 FROM snoozes WHERE snooze_until <= $1 ORDER BY snooze_until`, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query due snoozes: %w", err)
	}
	defer rows.Close()

	var out []*triage.Snooze
	for rows.Next() {
		sn, err := scanSnoozeRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate due snoozes: %w", err)
	}
	return out, nil
}

// scanStateRow scans a single classification_state row. Returns
// (nil, nil) when no row is found.
func scanStateRow(row pgx.Row) (*triage.State, error) {
	var (
		st       triage.State
		status   string
		priority *string
		folder   *string
	)
	err := row.Scan(
		&st.EmailID, &status, &st.Confidence, &priority, &folder, &st.Reasoning,
		&st.ClassifiedAt, &st.ReviewedAt, &st.DismissedAt, &st.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan state: %w", err)
	}

	st.Status = triage.Status(status)
	if priority != nil {
		p := triage.Priority(*priority)
		st.Priority = &p
	}
	if folder != nil {
		f := mail.Folder(*folder)
		st.SuggestedFolder = &f
	}
	return &st, nil
}

// scanRuleRow scans a single sender_rules row. Returns (nil, nil) when
// no row is found.
func scanRuleRow(row pgx.Row) (*triage.SenderRule, error) {
	var (
		r      triage.SenderRule
		folder string
	)
	err := row.Scan(
		&r.AccountID, &r.Pattern, &r.PatternType, &folder, &r.Confidence,
		&r.CorrectionCount, &r.AutoApply, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	r.TargetFolder = mail.Folder(folder)
	return &r, nil
}

func scanSnoozeRow(row pgx.Row) (*triage.Snooze, error) {
	var (
		sn     triage.Snooze
		folder string
		reason string
	)
	err := row.Scan(&sn.EmailID, &sn.SnoozeUntil, &folder, &reason, &sn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snooze: %w", err)
	}
	sn.OriginalFolder = mail.Folder(folder)
	sn.Reason = triage.SnoozeReason(reason)
	return &sn, nil
}
