// Package llm holds the classification prompt and verdict parsing
// shared by all model providers.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/triage"
)

// SystemPrompt returns the provider-independent system instructions.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an email triage assistant. Classify each email into exactly one folder:\n")
	for _, f := range mail.Folders() {
		if f == mail.FolderSnoozed {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString(`
Respond with a single JSON object and nothing else:
{"folder": "<folder>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>", "pattern_agreed": <bool>, "snooze_until": "<RFC3339 or omit>"}

Set pattern_agreed to true only when a local rule hint is given and you agree with it.
Suggest snooze_until only for shipping notifications with a delivery date in the future.`)
	return b.String()
}

// UserPrompt renders one email, its local rule hint, and the user's
// past corrections into the per-request prompt.
func UserPrompt(req *triage.ClassifyRequest) string {
	var b strings.Builder
	em := req.Email
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nDate: %s\n", em.From, em.Subject, em.Date.Format("2006-01-02 15:04"))
	if em.Snippet != "" {
		fmt.Fprintf(&b, "Snippet: %s\n", em.Snippet)
	}

	if req.Hint.Matched() {
		fmt.Fprintf(&b, "\nLocal rule hint: %s (confidence %.2f", req.Hint.Folder, req.Hint.Confidence)
		if len(req.Hint.Tags) > 0 {
			fmt.Fprintf(&b, ", tags: %s", strings.Join(req.Hint.Tags, ", "))
		}
		b.WriteString(")\n")
	}

	if len(req.Examples) > 0 {
		b.WriteString("\nHow this user filed similar emails before:\n")
		for _, ex := range req.Examples {
			fmt.Fprintf(&b, "- from %s, subject %q: filed under %s", ex.FromAddress, ex.Subject, ex.UserChoice)
			if ex.WasCorrection {
				fmt.Fprintf(&b, " (corrected from %s)", ex.AISuggestion)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nClassify this email.")
	return b.String()
}

// ParseVerdict extracts the JSON verdict from a model reply, tolerating
// surrounding prose and code fences.
func ParseVerdict(text string) (*triage.Verdict, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply: %q", truncate(text, 120))
	}

	var v triage.Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	if !v.Folder.Valid() {
		return nil, fmt.Errorf("verdict names unknown folder %q", v.Folder)
	}
	return &v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
