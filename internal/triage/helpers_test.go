package triage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/mailindex"
	"github.com/linnemanlabs/sift/internal/tasks"
	"github.com/linnemanlabs/sift/internal/triage"
	"github.com/linnemanlabs/sift/internal/triage/memstore"
)

// fakeMatcher returns a fixed hint for every email.
type fakeMatcher struct {
	hint triage.PatternHint
}

func (m *fakeMatcher) Match(context.Context, *mail.Email) triage.PatternHint { return m.hint }

// fakeClassifier delegates to fn so each test controls the verdict.
type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(req *triage.ClassifyRequest) (*triage.Verdict, error)
}

func (c *fakeClassifier) Classify(_ context.Context, req *triage.ClassifyRequest) (*triage.Verdict, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(req)
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordedMove struct {
	EmailUID uint32
	From     mail.Folder
	To       mail.Folder
}

// fakeMover records moves and can fail on demand.
type fakeMover struct {
	mu    sync.Mutex
	moves []recordedMove
	err   error
}

func (m *fakeMover) MoveMessage(_ context.Context, _ *mail.Account, uid uint32, from, to mail.Folder) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, recordedMove{EmailUID: uid, From: from, To: to})
	return nil
}

func (m *fakeMover) moveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves)
}

// fixture bundles the real in-memory store and index with fakes for the
// slow and remote stages.
type fixture struct {
	store      *memstore.Store
	index      *mailindex.MemIndex
	matcher    *fakeMatcher
	classifier *fakeClassifier
	mover      *fakeMover
	runner     *tasks.Runner
	engine     *triage.Engine
	svc        *triage.Service
}

type fixtureOpts struct {
	threshold   float64
	workers     int
	dailyBudget int
}

func newFixture(opts fixtureOpts) *fixture {
	if opts.threshold == 0 {
		opts.threshold = 0.8
	}
	if opts.workers == 0 {
		opts.workers = 1
	}

	f := &fixture{
		store:   memstore.New(),
		index:   mailindex.NewMem(),
		matcher: &fakeMatcher{},
		classifier: &fakeClassifier{fn: func(*triage.ClassifyRequest) (*triage.Verdict, error) {
			return &triage.Verdict{Folder: mail.FolderArchive, Confidence: 0.95}, nil
		}},
		mover:  &fakeMover{},
		runner: tasks.NewRunner(nil),
	}
	f.engine = triage.NewEngine(f.index, f.matcher, f.classifier, f.mover, f.store, nil, triage.EngineHooks{})
	budget := triage.NewLogBudget(f.store, opts.dailyBudget)
	gate := triage.NewGate(budget, f.index)
	f.svc = triage.NewService(f.store, f.index, f.engine, gate, budget, f.runner, f.mover, nil, triage.Options{
		Threshold: opts.threshold,
		Workers:   opts.workers,
	})
	return f
}

// seedEmail puts an email plus its account into the index.
func (f *fixture) seedEmail(id string, folder mail.Folder, date time.Time) *mail.Email {
	em := &mail.Email{
		ID:        id,
		AccountID: "acct-1",
		UID:       uint32(len(id)),
		From:      "sender@example.com",
		Subject:   "hello",
		Folder:    folder,
		Date:      date,
	}
	f.index.PutEmail(em)
	f.index.PutAccount(&mail.Account{ID: "acct-1", Address: "me@example.com", IMAPHost: "imap.example.com", IMAPPort: 993})
	return em
}

// waitForTask polls the runner until the task reaches a terminal status.
func waitForTask(t *testing.T, r *tasks.Runner, id string) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := r.GetStatus(id); st != nil && st.Status != tasks.StatusRunning {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish in time", id)
	return nil
}
