// Package rules implements the synchronous local rule stage of the
// triage pipeline.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/triage"
)

// StaticConfidence is the hint confidence for operator-configured
// domain rules.
const StaticConfidence = 0.85

// Matcher resolves a folder hint from learned auto-apply sender rules,
// falling back to static domain rules. Match never fails; internal
// trouble degrades to the empty hint.
type Matcher struct {
	static map[string]mail.Folder // lowercase domain -> folder
	store  triage.Store
	logger log.Logger
}

// New creates a Matcher. static maps sender domains to folders; store
// supplies learned rules and may be nil.
func New(static map[string]mail.Folder, store triage.Store, logger log.Logger) *Matcher {
	if logger == nil {
		logger = log.Nop()
	}
	normalized := make(map[string]mail.Folder, len(static))
	for domain, folder := range static {
		normalized[strings.ToLower(domain)] = folder
	}
	return &Matcher{static: normalized, store: store, logger: logger}
}

// ParseStatic parses "domain=folder" pairs into a static rule map.
func ParseStatic(pairs []string) (map[string]mail.Folder, error) {
	out := make(map[string]mail.Folder, len(pairs))
	for _, p := range pairs {
		domain, folder, ok := strings.Cut(p, "=")
		domain = strings.TrimSpace(domain)
		f := mail.Folder(strings.TrimSpace(folder))
		if !ok || domain == "" {
			return nil, fmt.Errorf("invalid rule %q, want domain=folder", p)
		}
		if !f.Valid() {
			return nil, fmt.Errorf("rule %q names unknown folder %q", p, f)
		}
		out[strings.ToLower(domain)] = f
	}
	return out, nil
}

// Match returns the folder hint for an email. Learned auto-apply rules
// take precedence over static rules.
func (m *Matcher) Match(ctx context.Context, email *mail.Email) triage.PatternHint {
	domain := email.FromDomain()
	if domain == "" {
		return triage.PatternHint{}
	}

	if m.store != nil {
		rule, ok, err := m.store.GetSenderRule(ctx, email.AccountID, domain)
		if err != nil {
			m.logger.Warn(ctx, "sender rule lookup failed, skipping learned rules",
				"email_id", email.ID, "domain", domain, "error", err.Error())
		} else if ok && rule.AutoApply {
			return triage.PatternHint{
				Folder:     rule.TargetFolder,
				Confidence: rule.Confidence,
				Tags:       []string{"learned"},
			}
		}
	}

	if folder, ok := m.static[domain]; ok {
		return triage.PatternHint{
			Folder:     folder,
			Confidence: StaticConfidence,
			Tags:       []string{"static"},
		}
	}

	return triage.PatternHint{}
}
