// Package mailindex reads the local email/account index maintained by
// the sync service and implements triage.EmailSource.
package mailindex

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/mail"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/mailindex")

//go:embed schema.sql
var schema string

// Index reads emails and accounts from PostgreSQL. The sync service
// owns all writes except the post-move folder update.
type Index struct {
	pool *pgxpool.Pool
}

// New returns an Index on an existing pool, applying the schema.
func New(ctx context.Context, pool *pgxpool.Pool) (*Index, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Index{pool: pool}, nil
}

// GetEmail retrieves one email by ID.
func (x *Index) GetEmail(ctx context.Context, id string) (*mail.Email, bool, error) {
	ctx, span := tracer.Start(ctx, "mailindex.GetEmail", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		em     mail.Email
		folder string
	)
	err := x.pool.QueryRow(ctx,
		`SELECT id, account_id, uid, message_id, from_addr, subject, snippet, folder, date
		 FROM emails WHERE id = $1`, id,
	).Scan(&em.ID, &em.AccountID, &em.UID, &em.MessageID, &em.From, &em.Subject, &em.Snippet, &folder, &em.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan email: %w", err)
	}
	em.Folder = mail.Folder(folder)
	return &em, true, nil
}

// GetAccount retrieves one account by ID.
func (x *Index) GetAccount(ctx context.Context, id string) (*mail.Account, bool, error) {
	ctx, span := tracer.Start(ctx, "mailindex.GetAccount", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var acct mail.Account
	err := x.pool.QueryRow(ctx,
		`SELECT id, address, imap_host, imap_port, imap_username, imap_password
		 FROM accounts WHERE id = $1`, id,
	).Scan(&acct.ID, &acct.Address, &acct.IMAPHost, &acct.IMAPPort, &acct.IMAPUsername, &acct.IMAPPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan account: %w", err)
	}
	return &acct, true, nil
}

// UpdateEmailFolder records the email's new folder after a successful
// remote move.
func (x *Index) UpdateEmailFolder(ctx context.Context, emailID string, folder mail.Folder) error {
	ctx, span := tracer.Start(ctx, "mailindex.UpdateEmailFolder", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := x.pool.Exec(ctx,
		`UPDATE emails SET folder = $2 WHERE id = $1`, emailID, string(folder))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %s not in index", emailID)
	}
	return nil
}

// ListAccountIDs returns the ids of all configured accounts.
func (x *Index) ListAccountIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "mailindex.ListAccountIDs", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := x.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return ids, nil
}

// ListEmailIDs returns the ids of all emails in the folder for one
// account, newest first. Used to build batch candidate lists.
func (x *Index) ListEmailIDs(ctx context.Context, accountID string, folder mail.Folder, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "mailindex.ListEmailIDs", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := x.pool.Query(ctx,
		`SELECT id FROM emails WHERE account_id = $1 AND folder = $2 ORDER BY date DESC LIMIT $3`,
		accountID, string(folder), limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan email id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return ids, nil
}
