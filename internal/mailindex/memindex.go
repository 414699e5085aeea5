package mailindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/sift/internal/mail"
)

// MemIndex is an in-memory email/account index for running without a
// database. Safe for concurrent use.
type MemIndex struct {
	mu       sync.RWMutex
	emails   map[string]*mail.Email
	accounts map[string]*mail.Account
}

// NewMem creates an empty in-memory index.
func NewMem() *MemIndex {
	return &MemIndex{
		emails:   make(map[string]*mail.Email),
		accounts: make(map[string]*mail.Account),
	}
}

// PutEmail stores a copy of the email, replacing any existing entry.
func (x *MemIndex) PutEmail(em *mail.Email) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cp := *em
	x.emails[em.ID] = &cp
}

// PutAccount stores a copy of the account, replacing any existing entry.
func (x *MemIndex) PutAccount(acct *mail.Account) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cp := *acct
	x.accounts[acct.ID] = &cp
}

// GetEmail retrieves one email by ID.
func (x *MemIndex) GetEmail(_ context.Context, id string) (*mail.Email, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	em, ok := x.emails[id]
	if !ok {
		return nil, false, nil
	}
	cp := *em
	return &cp, true, nil
}

// GetAccount retrieves one account by ID.
func (x *MemIndex) GetAccount(_ context.Context, id string) (*mail.Account, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	acct, ok := x.accounts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *acct
	return &cp, true, nil
}

// UpdateEmailFolder records the email's new folder after a successful
// remote move.
func (x *MemIndex) UpdateEmailFolder(_ context.Context, emailID string, folder mail.Folder) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	em, ok := x.emails[emailID]
	if !ok {
		return fmt.Errorf("email %s not in index", emailID)
	}
	cp := *em
	cp.Folder = folder
	x.emails[emailID] = &cp
	return nil
}

// ListAccountIDs returns the ids of all configured accounts.
func (x *MemIndex) ListAccountIDs(_ context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.accounts))
	for id := range x.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListEmailIDs returns the ids of all emails in the folder for one
// account, newest first.
func (x *MemIndex) ListEmailIDs(_ context.Context, accountID string, folder mail.Folder, limit int) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	matched := make([]*mail.Email, 0)
	for _, em := range x.emails {
		if em.AccountID == accountID && em.Folder == folder {
			matched = append(matched, em)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Date.After(matched[j].Date)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]string, len(matched))
	for i, em := range matched {
		ids[i] = em.ID
	}
	return ids, nil
}
