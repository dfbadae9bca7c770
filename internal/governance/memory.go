package governance

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. Writers are
// serialized by a single mutex and run against a copy of the state that only
// replaces the live state when fn succeeds.
type InMemory struct {
	mu    sync.RWMutex
	state *memState
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{state: newMemState()}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *InMemory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Reads see the committed state; writes land on a throwaway copy.
	return fn(&memTx{st: s.state.clone()})
}

type memState struct {
	groups        map[string]Group
	members       map[string]map[string]Membership
	requests      map[string]JoinRequest
	joinVotes     map[string]map[string]JoinVote
	proposals     map[string]Proposal
	proposalVotes map[string]map[string]ProposalVote
	logs          []LogEntry
	funds         []Fund
}

func newMemState() *memState {
	return &memState{
		groups:        make(map[string]Group),
		members:       make(map[string]map[string]Membership),
		requests:      make(map[string]JoinRequest),
		joinVotes:     make(map[string]map[string]JoinVote),
		proposals:     make(map[string]Proposal),
		proposalVotes: make(map[string]map[string]ProposalVote),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for k, v := range st.groups {
		out.groups[k] = v
	}
	for g, ms := range st.members {
		cp := make(map[string]Membership, len(ms))
		for u, m := range ms {
			cp[u] = m
		}
		out.members[g] = cp
	}
	for k, v := range st.requests {
		out.requests[k] = v
	}
	for r, vs := range st.joinVotes {
		cp := make(map[string]JoinVote, len(vs))
		for u, v := range vs {
			cp[u] = v
		}
		out.joinVotes[r] = cp
	}
	for k, v := range st.proposals {
		out.proposals[k] = v
	}
	for p, vs := range st.proposalVotes {
		cp := make(map[string]ProposalVote, len(vs))
		for u, v := range vs {
			cp[u] = v
		}
		out.proposalVotes[p] = cp
	}
	out.logs = append([]LogEntry(nil), st.logs...)
	out.funds = append([]Fund(nil), st.funds...)
	return out
}

type memTx struct {
	st *memState
}

// --- groups ---

func (t *memTx) CreateGroup(_ context.Context, g *Group) error {
	if g.ID == "" {
		g.ID = newID()
	}
	if _, ok := t.st.groups[g.ID]; ok {
		return wrapf(ErrInvalidState, "group %s already exists", g.ID)
	}
	t.st.groups[g.ID] = *g
	return nil
}

func (t *memTx) Group(_ context.Context, id string) (Group, error) {
	g, ok := t.st.groups[id]
	if !ok {
		return Group{}, wrapf(ErrNotFound, "group %s", id)
	}
	return g, nil
}

func (t *memTx) LockGroup(ctx context.Context, id string) (Group, error) {
	// The store-wide mutex already serializes writers.
	return t.Group(ctx, id)
}

func (t *memTx) UpdateGroup(_ context.Context, g Group) error {
	if _, ok := t.st.groups[g.ID]; !ok {
		return wrapf(ErrNotFound, "group %s", g.ID)
	}
	t.st.groups[g.ID] = g
	return nil
}

func (t *memTx) DeleteGroup(_ context.Context, id string) error {
	if _, ok := t.st.groups[id]; !ok {
		return wrapf(ErrNotFound, "group %s", id)
	}
	delete(t.st.groups, id)
	delete(t.st.members, id)
	for rid, r := range t.st.requests {
		if r.GroupID == id {
			delete(t.st.requests, rid)
			delete(t.st.joinVotes, rid)
		}
	}
	for pid, p := range t.st.proposals {
		if p.GroupID == id {
			delete(t.st.proposals, pid)
			delete(t.st.proposalVotes, pid)
		}
	}
	logs := t.st.logs[:0]
	for _, e := range t.st.logs {
		if e.GroupID != id {
			logs = append(logs, e)
		}
	}
	t.st.logs = logs
	funds := t.st.funds[:0]
	for _, f := range t.st.funds {
		if f.GroupID != id {
			funds = append(funds, f)
		}
	}
	t.st.funds = funds
	return nil
}

// --- memberships ---

func (t *memTx) Role(_ context.Context, groupID, userID string) (Role, error) {
	m, ok := t.st.members[groupID][userID]
	if !ok {
		return RoleNone, nil
	}
	return m.Role, nil
}

func (t *memTx) AddMember(_ context.Context, m Membership) error {
	if _, ok := t.st.groups[m.GroupID]; !ok {
		return wrapf(ErrNotFound, "group %s", m.GroupID)
	}
	ms := t.st.members[m.GroupID]
	if ms == nil {
		ms = make(map[string]Membership)
		t.st.members[m.GroupID] = ms
	}
	if _, ok := ms[m.UserID]; ok {
		return wrapf(ErrInvalidState, "user %s is already a member", m.UserID)
	}
	ms[m.UserID] = m
	return nil
}

func (t *memTx) SetRole(_ context.Context, groupID, userID string, role Role) error {
	m, ok := t.st.members[groupID][userID]
	if !ok {
		return wrapf(ErrNotFound, "membership %s/%s", groupID, userID)
	}
	m.Role = role
	t.st.members[groupID][userID] = m
	return nil
}

func (t *memTx) RemoveMember(_ context.Context, groupID, userID string) error {
	if _, ok := t.st.members[groupID][userID]; !ok {
		return wrapf(ErrNotFound, "membership %s/%s", groupID, userID)
	}
	delete(t.st.members[groupID], userID)
	return nil
}

func (t *memTx) Members(_ context.Context, groupID string) ([]Membership, error) {
	out := make([]Membership, 0, len(t.st.members[groupID]))
	for _, m := range t.st.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (t *memTx) CountByRole(_ context.Context, groupID string) (RoleCounts, error) {
	var c RoleCounts
	for _, m := range t.st.members[groupID] {
		switch m.Role {
		case RoleFounder:
			c.Founders++
		case RoleManager:
			c.Managers++
		case RoleMember:
			c.Members++
		}
	}
	return c, nil
}

// --- join requests ---

func (t *memTx) CreateJoinRequest(_ context.Context, r *JoinRequest) error {
	if r.ID == "" {
		r.ID = newID()
	}
	t.st.requests[r.ID] = *r
	return nil
}

func (t *memTx) JoinRequest(_ context.Context, id string) (JoinRequest, error) {
	r, ok := t.st.requests[id]
	if !ok {
		return JoinRequest{}, wrapf(ErrNotFound, "join request %s", id)
	}
	return r, nil
}

func (t *memTx) UpdateJoinRequest(_ context.Context, r JoinRequest) error {
	if _, ok := t.st.requests[r.ID]; !ok {
		return wrapf(ErrNotFound, "join request %s", r.ID)
	}
	t.st.requests[r.ID] = r
	return nil
}

func (t *memTx) LatestJoinRequest(_ context.Context, groupID, userID string) (JoinRequest, error) {
	var (
		latest JoinRequest
		found  bool
	)
	for _, r := range t.st.requests {
		if r.GroupID != groupID || r.UserID != userID {
			continue
		}
		if !found || r.ID > latest.ID {
			latest, found = r, true
		}
	}
	if !found {
		return JoinRequest{}, wrapf(ErrNotFound, "no join request for %s", userID)
	}
	return latest, nil
}

func (t *memTx) ListJoinRequests(_ context.Context, groupID string, statuses ...RequestStatus) ([]JoinRequest, error) {
	var out []JoinRequest
	for _, r := range t.st.requests {
		if r.GroupID != groupID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) AddJoinVote(_ context.Context, v JoinVote) error {
	vs := t.st.joinVotes[v.RequestID]
	if vs == nil {
		vs = make(map[string]JoinVote)
		t.st.joinVotes[v.RequestID] = vs
	}
	if _, ok := vs[v.VoterID]; ok {
		return ErrDuplicateVote
	}
	vs[v.VoterID] = v
	return nil
}

func (t *memTx) JoinVotes(_ context.Context, requestID string) ([]JoinVote, error) {
	out := make([]JoinVote, 0, len(t.st.joinVotes[requestID]))
	for _, v := range t.st.joinVotes[requestID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CastAt.Before(out[j].CastAt) })
	return out, nil
}

// --- proposals ---

func (t *memTx) CreateProposal(_ context.Context, p *Proposal) error {
	if p.ID == "" {
		p.ID = newID()
	}
	t.st.proposals[p.ID] = *p
	return nil
}

func (t *memTx) Proposal(_ context.Context, id string) (Proposal, error) {
	p, ok := t.st.proposals[id]
	if !ok {
		return Proposal{}, wrapf(ErrNotFound, "proposal %s", id)
	}
	return p, nil
}

func (t *memTx) UpdateProposal(_ context.Context, p Proposal) error {
	if _, ok := t.st.proposals[p.ID]; !ok {
		return wrapf(ErrNotFound, "proposal %s", p.ID)
	}
	t.st.proposals[p.ID] = p
	return nil
}

func (t *memTx) ListProposals(_ context.Context, f ProposalFilter) ([]Proposal, error) {
	var out []Proposal
	for _, p := range t.st.proposals {
		if matchesFilter(p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) AddProposalVote(_ context.Context, v ProposalVote) error {
	vs := t.st.proposalVotes[v.ProposalID]
	if vs == nil {
		vs = make(map[string]ProposalVote)
		t.st.proposalVotes[v.ProposalID] = vs
	}
	if _, ok := vs[v.VoterID]; ok {
		return ErrDuplicateVote
	}
	vs[v.VoterID] = v
	return nil
}

func (t *memTx) ProposalVotes(_ context.Context, proposalID string) ([]ProposalVote, error) {
	out := make([]ProposalVote, 0, len(t.st.proposalVotes[proposalID]))
	for _, v := range t.st.proposalVotes[proposalID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CastAt.Before(out[j].CastAt) })
	return out, nil
}

// --- log & funds ---

func (t *memTx) AppendLog(_ context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	t.st.logs = append(t.st.logs, *e)
	return nil
}

func (t *memTx) Logs(_ context.Context, groupID string, limit int) ([]LogEntry, error) {
	var out []LogEntry
	for i := len(t.st.logs) - 1; i >= 0; i-- {
		e := t.st.logs[i]
		if e.GroupID != groupID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) CreateFund(_ context.Context, f *Fund) error {
	if f.ID == "" {
		f.ID = newID()
	}
	t.st.funds = append(t.st.funds, *f)
	return nil
}

func (t *memTx) Funds(_ context.Context, groupID string) ([]Fund, error) {
	var out []Fund
	for _, f := range t.st.funds {
		if f.GroupID == groupID {
			out = append(out, f)
		}
	}
	return out, nil
}

func containsStatus(list []RequestStatus, s RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
