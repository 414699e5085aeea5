// Package mail holds the domain types shared between the triage engine
// and its mail-layer collaborators.
package mail

import (
	"strings"
	"time"
)

// Folder is the closed set of triage destinations. Adding a folder is a
// compile-time decision; everything that branches on Folder switches
// exhaustively over these values.
type Folder string

const (
	FolderInbox       Folder = "inbox"
	FolderArchive     Folder = "archive"
	FolderNewsletters Folder = "newsletters"
	FolderReceipts    Folder = "receipts"
	FolderShipping    Folder = "shipping"
	FolderPersonal    Folder = "personal"
	FolderJunk        Folder = "junk"
	FolderSnoozed     Folder = "snoozed"
)

// Folders lists every valid folder, in display order.
func Folders() []Folder {
	return []Folder{
		FolderInbox,
		FolderArchive,
		FolderNewsletters,
		FolderReceipts,
		FolderShipping,
		FolderPersonal,
		FolderJunk,
		FolderSnoozed,
	}
}

// Valid reports whether f is one of the known folders.
func (f Folder) Valid() bool {
	switch f {
	case FolderInbox, FolderArchive, FolderNewsletters, FolderReceipts,
		FolderShipping, FolderPersonal, FolderJunk, FolderSnoozed:
		return true
	}
	return false
}

// Path returns the IMAP mailbox path for the folder.
func (f Folder) Path() string {
	switch f {
	case FolderInbox:
		return "INBOX"
	case FolderArchive:
		return "Archive"
	case FolderNewsletters:
		return "Newsletters"
	case FolderReceipts:
		return "Receipts"
	case FolderShipping:
		return "Shipping"
	case FolderPersonal:
		return "Personal"
	case FolderJunk:
		return "Junk"
	case FolderSnoozed:
		return "Snoozed"
	}
	return string(f)
}

// Email is one message in the local index. The sync service owns the
// index; the engine only reads it and updates Folder after a move.
type Email struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet"`
	Folder    Folder    `json:"folder"`
	Date      time.Time `json:"date"`
}

// FromDomain returns the lowercase domain part of the sender address,
// or "" if the address has no domain.
func (e *Email) FromDomain() string {
	return AddressDomain(e.From)
}

// Account identifies one mailbox and carries what the mover needs to
// reach it.
type Account struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"`
}

// AddressDomain extracts the lowercase domain from an email address.
// Handles bare addresses and "Name <addr>" forms.
func AddressDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
