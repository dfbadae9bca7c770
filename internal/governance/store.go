package governance

import (
	"context"
	"time"
)

// Store is the transactional backing store of the engine. InTx runs fn inside a
// single serializable transaction: either every write made through the Tx
// commits, or none does. Implementations may call fn more than once when they
// retry serialization conflicts, so fn must not leak side effects.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes every read and write the engine performs. Counts are always derived
// from membership rows inside the transaction; nothing is cached.
type Tx interface {
	GroupStore
	MembershipStore
	JoinRequestStore
	ProposalStore
	LogStore
	FundStore
}

// GroupStore manages groups.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	Group(ctx context.Context, id string) (Group, error)
	// LockGroup loads the group and holds a write lock on it until the
	// transaction ends, serializing governance writes per group.
	LockGroup(ctx context.Context, id string) (Group, error)
	UpdateGroup(ctx context.Context, g Group) error
	// DeleteGroup removes the group and cascades to everything it owns.
	DeleteGroup(ctx context.Context, id string) error
}

// MembershipStore is the authoritative (group, user) -> role table.
type MembershipStore interface {
	Role(ctx context.Context, groupID, userID string) (Role, error)
	AddMember(ctx context.Context, m Membership) error
	SetRole(ctx context.Context, groupID, userID string, role Role) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	Members(ctx context.Context, groupID string) ([]Membership, error)
	CountByRole(ctx context.Context, groupID string) (RoleCounts, error)
}

// JoinRequestStore manages join requests and their ballots.
type JoinRequestStore interface {
	CreateJoinRequest(ctx context.Context, r *JoinRequest) error
	JoinRequest(ctx context.Context, id string) (JoinRequest, error)
	UpdateJoinRequest(ctx context.Context, r JoinRequest) error
	// LatestJoinRequest returns the user's most recent request for the group.
	LatestJoinRequest(ctx context.Context, groupID, userID string) (JoinRequest, error)
	ListJoinRequests(ctx context.Context, groupID string, statuses ...RequestStatus) ([]JoinRequest, error)
	// AddJoinVote fails with ErrDuplicateVote when the voter already voted.
	AddJoinVote(ctx context.Context, v JoinVote) error
	JoinVotes(ctx context.Context, requestID string) ([]JoinVote, error)
}

// ProposalFilter narrows ListProposals. Zero fields do not filter. ExpiredBy
// keeps proposals whose ExpiresAt is not after that instant.
type ProposalFilter struct {
	GroupID       string
	Statuses      []ProposalStatus
	ResolvedSince time.Time
	ExpiredBy     time.Time
	Limit         int
}

// ProposalStore manages proposals and their ballots.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p *Proposal) error
	Proposal(ctx context.Context, id string) (Proposal, error)
	UpdateProposal(ctx context.Context, p Proposal) error
	ListProposals(ctx context.Context, f ProposalFilter) ([]Proposal, error)
	// AddProposalVote fails with ErrDuplicateVote when the voter already voted.
	AddProposalVote(ctx context.Context, v ProposalVote) error
	ProposalVotes(ctx context.Context, proposalID string) ([]ProposalVote, error)
}

// LogStore is the append-only governance log.
type LogStore interface {
	AppendLog(ctx context.Context, e *LogEntry) error
	Logs(ctx context.Context, groupID string, limit int) ([]LogEntry, error)
}

// FundStore records funds created by approved proposals.
type FundStore interface {
	CreateFund(ctx context.Context, f *Fund) error
	Funds(ctx context.Context, groupID string) ([]Fund, error)
}

func matchesFilter(p Proposal, f ProposalFilter) bool {
	if f.GroupID != "" && p.GroupID != f.GroupID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if p.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.ResolvedSince.IsZero() && (p.ResolvedAt == nil || p.ResolvedAt.Before(f.ResolvedSince)) {
		return false
	}
	if !f.ExpiredBy.IsZero() && p.ExpiresAt.After(f.ExpiredBy) {
		return false
	}
	return true
}
