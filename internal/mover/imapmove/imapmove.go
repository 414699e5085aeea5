// Package imapmove implements triage.Mover over IMAP.
package imapmove

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/mail"
)

// Mover moves messages between mailboxes with one short-lived IMAP
// session per move.
type Mover struct {
	logger log.Logger
}

// New creates an IMAP mover.
func New(logger log.Logger) *Mover {
	if logger == nil {
		logger = log.Nop()
	}
	return &Mover{logger: logger}
}

// MoveMessage moves one message by UID from one folder to another on
// the account's IMAP server.
func (m *Mover) MoveMessage(ctx context.Context, account *mail.Account, uid uint32, from, to mail.Folder) error {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(account.IMAPUsername, account.IMAPPassword).Wait(); err != nil {
		return fmt.Errorf("login %s: %w", account.Address, err)
	}

	if _, err := client.Select(from.Path(), nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", from.Path(), err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	if _, err := client.Move(uidSet, to.Path()).Wait(); err != nil {
		return fmt.Errorf("move uid %d to %s: %w", uid, to.Path(), err)
	}

	m.logger.Info(ctx, "moved message",
		"account", account.Address,
		"uid", uid,
		"from", string(from),
		"to", string(to),
	)

	if err := client.Logout().Wait(); err != nil {
		m.logger.Warn(ctx, "imap logout failed", "account", account.Address, "error", err.Error())
	}
	return nil
}
