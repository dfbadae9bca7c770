package governance

import (
	"context"
	"math"
	"time"
)

// participationWindow bounds the proposals considered for turnout.
const participationWindow = 30 * 24 * time.Hour

// HealthStatus summarises a group's governance state.
type HealthStatus string

const (
	HealthHealthy            HealthStatus = "healthy"
	HealthLowParticipation   HealthStatus = "low_participation"
	HealthCentralizationRisk HealthStatus = "centralization_risk"
)

// HealthReport is the computed governance health of one group.
type HealthReport struct {
	Status                HealthStatus `json:"status"`
	ManagerCount          int          `json:"manager_count"`
	MemberCount           int          `json:"member_count"`
	VoteParticipationRate int          `json:"vote_participation_rate"`
	PendingDecisions      int          `json:"pending_decisions"`
	RuleCompliance        int          `json:"rule_compliance"`
	IsBootstrap           bool         `json:"is_bootstrap"`
}

// RequireHealthy fails with ErrGovernanceViolation when the group is already
// below the manager minimum. Subsystems that create channels, polls or events
// call it before doing so.
func (s *Service) RequireHealthy(ctx context.Context, groupID string) error {
	return s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.Group(ctx, groupID); err != nil {
			return err
		}
		counts, err := tx.CountByRole(ctx, groupID)
		if err != nil {
			return err
		}
		if BelowMinimum(counts) {
			return wrapf(ErrGovernanceViolation, "group %s has %d of %d required managers", groupID, ManagerCount(counts), minManagers)
		}
		return nil
	})
}

// ComputeHealth derives the group's health report from current state.
func (s *Service) ComputeHealth(ctx context.Context, groupID string) (HealthReport, error) {
	var r HealthReport
	now := s.now()
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.Group(ctx, groupID); err != nil {
			return err
		}
		counts, err := tx.CountByRole(ctx, groupID)
		if err != nil {
			return err
		}
		r.ManagerCount = ManagerCount(counts)
		r.MemberCount = counts.Total()
		r.IsBootstrap = IsBootstrap(counts)

		if r.VoteParticipationRate, err = participation(ctx, tx, groupID, now); err != nil {
			return err
		}

		active, err := tx.ListProposals(ctx, ProposalFilter{GroupID: groupID, Statuses: []ProposalStatus{ProposalVoting}})
		if err != nil {
			return err
		}
		requests, err := tx.ListJoinRequests(ctx, groupID, RequestPending, RequestVoting)
		if err != nil {
			return err
		}
		r.PendingDecisions = len(active) + len(requests)

		if !BelowMinimum(counts) {
			r.RuleCompliance += 50
		}
		overdue := false
		for _, p := range active {
			if !now.Before(p.ExpiresAt) {
				overdue = true
				break
			}
		}
		if !overdue {
			r.RuleCompliance += 50
		}
		return nil
	})
	if err != nil {
		return HealthReport{}, err
	}

	switch {
	case !r.IsBootstrap && r.ManagerCount < minManagers:
		r.Status = HealthCentralizationRisk
	case r.VoteParticipationRate < 40 || r.RuleCompliance < 50:
		r.Status = HealthLowParticipation
	default:
		r.Status = HealthHealthy
	}
	return r, nil
}

// participation approximates turnout over the trailing window as ballots cast
// against twice the quorum of each resolved proposal. The result is not clamped.
func participation(ctx context.Context, tx Tx, groupID string, now time.Time) (int, error) {
	resolved, err := tx.ListProposals(ctx, ProposalFilter{
		GroupID:       groupID,
		Statuses:      []ProposalStatus{ProposalApproved, ProposalRejected, ProposalExpired},
		ResolvedSince: now.Add(-participationWindow),
	})
	if err != nil {
		return 0, err
	}
	if len(resolved) == 0 {
		return 100, nil
	}
	var cast, pool int
	for _, p := range resolved {
		votes, err := tx.ProposalVotes(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		cast += len(votes)
		pool += p.RequiredVotes * 2
	}
	if pool == 0 {
		return 100, nil
	}
	return int(math.Round(100 * float64(cast) / float64(pool))), nil
}
