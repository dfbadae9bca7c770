package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("delivery down")
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) to(userID, typ string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, s := range n.sent {
		if s.UserID == userID && s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (a *recordingAudit) Record(_ context.Context, e LogEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *InMemory
	svc   *Service
	clock *fakeClock
	notes *recordingNotifier
	audit *recordingAudit
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: NewInMemory(),
		clock: &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		notes: &recordingNotifier{},
		audit: &recordingAudit{},
	}
	opts = append([]ServiceOption{
		WithClock(f.clock.Now),
		WithNotifier(f.notes),
		WithAuditSink(f.audit),
	}, opts...)
	svc, err := NewService(f.store, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// group creates a group founded by "founder" and seeds the given managers and
// members directly in the store.
func (f *fixture) group(managers, members []string, opts ...func(*GroupInput)) Group {
	f.t.Helper()
	in := GroupInput{Name: "gardeners", FounderID: "founder", Transparency: TransparencyMembers}
	for _, o := range opts {
		o(&in)
	}
	g, err := f.svc.CreateGroup(f.ctx, in)
	require.NoError(f.t, err)
	f.seed(g.ID, RoleManager, managers...)
	f.seed(g.ID, RoleMember, members...)
	return g
}

func (f *fixture) seed(groupID string, role Role, users ...string) {
	f.t.Helper()
	err := f.store.InTx(f.ctx, func(tx Tx) error {
		for _, u := range users {
			if err := tx.AddMember(f.ctx, Membership{GroupID: groupID, UserID: u, Role: role, JoinedAt: f.clock.Now()}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(f.t, err)
}

func (f *fixture) role(groupID, userID string) Role {
	f.t.Helper()
	var r Role
	require.NoError(f.t, f.store.View(f.ctx, func(tx Tx) error {
		var err error
		r, err = tx.Role(f.ctx, groupID, userID)
		return err
	}))
	return r
}

func (f *fixture) counts(groupID string) RoleCounts {
	f.t.Helper()
	var c RoleCounts
	require.NoError(f.t, f.store.View(f.ctx, func(tx Tx) error {
		var err error
		c, err = tx.CountByRole(f.ctx, groupID)
		return err
	}))
	return c
}

func (f *fixture) proposal(id string) Proposal {
	f.t.Helper()
	var p Proposal
	require.NoError(f.t, f.store.View(f.ctx, func(tx Tx) error {
		var err error
		p, err = tx.Proposal(f.ctx, id)
		return err
	}))
	return p
}

func (f *fixture) logs(groupID string) []LogEntry {
	f.t.Helper()
	var out []LogEntry
	require.NoError(f.t, f.store.View(f.ctx, func(tx Tx) error {
		var err error
		out, err = tx.Logs(f.ctx, groupID, 0)
		return err
	}))
	return out
}

func countLogs(entries []LogEntry, action string) int {
	n := 0
	for _, e := range entries {
		if e.ActionType == action {
			n++
		}
	}
	return n
}

// checkInvariants asserts the structural rules that must hold after every commit.
func (f *fixture) checkInvariants(groupID string) {
	f.t.Helper()
	c := f.counts(groupID)
	require.Equal(f.t, 1, c.Founders, "exactly one founder")
	if c.Total() > bootstrapMaxMembers {
		require.GreaterOrEqual(f.t, ManagerCount(c), minManagers, "manager minimum")
	}
}
