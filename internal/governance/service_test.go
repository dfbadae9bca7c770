package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
	_, err = NewService(NewInMemory(), WithRejoinCooldown(-time.Second))
	assert.Error(t, err)
}

func TestExpireProposalsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana", "ben"}, []string{"bo"})

	person, err := f.svc.ProposeAction(f.ctx, ActionInput{GroupID: g.ID, ProposerID: "ana", Action: ActionPromote, TargetUserID: "bo"})
	require.NoError(t, err)
	policy, err := f.svc.CreatePolicyProposal(f.ctx, PolicyInput{GroupID: g.ID, ProposerID: "ana", Action: ActionCustom, Title: "Picnic"})
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	n, err := f.svc.ExpireProposals(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the person proposal is due")
	assert.Equal(t, ProposalExpired, f.proposal(person.ID).Status)
	assert.Equal(t, ProposalVoting, f.proposal(policy.ID).Status)
	assert.Equal(t, RoleMember, f.role(g.ID, "bo"))

	f.clock.Advance(24 * time.Hour)
	n, err = f.svc.ExpireProposals(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ProposalExpired, f.proposal(policy.ID).Status)

	before := len(f.logs(g.ID))
	n, err = f.svc.ExpireProposals(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.logs(g.ID), before)
	assert.Equal(t, 2, countLogs(f.logs(g.ID), "proposal_expired"))

	hist, err := f.svc.ProposalHistory(f.ctx, g.ID, "bo", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestHealthReport(t *testing.T) {
	t.Run("fresh group", func(t *testing.T) {
		f := newFixture(t)
		g := f.group(nil, []string{"bo"})

		r, err := f.svc.ComputeHealth(f.ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, HealthReport{
			Status:                HealthHealthy,
			ManagerCount:          1,
			MemberCount:           2,
			VoteParticipationRate: 100,
			RuleCompliance:        100,
			IsBootstrap:           true,
		}, r)
		assert.NoError(t, f.svc.RequireHealthy(f.ctx, g.ID))
	})

	t.Run("centralization risk", func(t *testing.T) {
		f := newFixture(t)
		g := f.group(nil, []string{"bo", "cy", "di"})

		r, err := f.svc.ComputeHealth(f.ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, HealthCentralizationRisk, r.Status)
		assert.Equal(t, 50, r.RuleCompliance)
		assert.ErrorIs(t, f.svc.RequireHealthy(f.ctx, g.ID), ErrGovernanceViolation)
	})

	t.Run("participation", func(t *testing.T) {
		f := newFixture(t)
		g := f.group([]string{"ana", "ben", "cid"}, []string{"bo"})

		kick, err := f.svc.ProposeAction(f.ctx, ActionInput{GroupID: g.ID, ProposerID: "founder", Action: ActionKick, TargetUserID: "bo"})
		require.NoError(t, err)
		_, err = f.svc.VoteOnProposal(f.ctx, kick.ID, "ana", ChoiceApprove)
		require.NoError(t, err)

		r, err := f.svc.ComputeHealth(f.ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, r.VoteParticipationRate, "2 ballots against 2*2")
		assert.Equal(t, HealthHealthy, r.Status)

		_, err = f.svc.CreatePolicyProposal(f.ctx, PolicyInput{GroupID: g.ID, ProposerID: "founder", Action: ActionCustom, Title: "Picnic"})
		require.NoError(t, err)
		_, err = f.svc.RequestToJoin(f.ctx, g.ID, "newbie", "")
		require.NoError(t, err)

		f.clock.Advance(policyProposalTTL + time.Hour)
		r, err = f.svc.ComputeHealth(f.ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, r.PendingDecisions)
		assert.Equal(t, 50, r.RuleCompliance, "an overdue proposal costs half")
		assert.Equal(t, HealthHealthy, r.Status)

		_, err = f.svc.ExpireProposals(f.ctx, f.clock.Now())
		require.NoError(t, err)
		r, err = f.svc.ComputeHealth(f.ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, r.RuleCompliance)
		assert.Equal(t, 38, r.VoteParticipationRate, "3 ballots against 8")
		assert.Equal(t, HealthLowParticipation, r.Status)
	})
}

func TestFounderTransferRoundTrip(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana"}, []string{"bo"})
	before, err := f.svc.ListMembers(f.ctx, g.ID, "bo")
	require.NoError(t, err)

	_, err = f.svc.TransferFounder(f.ctx, g.ID, "ana", "founder")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.TransferFounder(f.ctx, g.ID, "founder", "bo")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.TransferFounder(f.ctx, g.ID, "founder", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	moved, err := f.svc.TransferFounder(f.ctx, g.ID, "founder", "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana", moved.CreatorID)
	assert.Equal(t, RoleFounder, f.role(g.ID, "ana"))
	assert.Equal(t, RoleManager, f.role(g.ID, "founder"))
	f.checkInvariants(g.ID)
	assert.Len(t, f.notes.to("ana", NoteFounderTransferred), 1)

	back, err := f.svc.TransferFounder(f.ctx, g.ID, "ana", "founder")
	require.NoError(t, err)
	assert.Equal(t, g.CreatorID, back.CreatorID)

	after, err := f.svc.ListMembers(f.ctx, g.ID, "bo")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, countLogs(f.logs(g.ID), "founder_transferred"))
}

func TestLeaveAndDeleteGroup(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana"}, []string{"bo", "cy"})

	assert.ErrorIs(t, f.svc.LeaveGroup(f.ctx, g.ID, "founder"), ErrFounderImmune)
	assert.ErrorIs(t, f.svc.LeaveGroup(f.ctx, g.ID, "ana"), ErrGovernanceViolation)
	assert.ErrorIs(t, f.svc.LeaveGroup(f.ctx, g.ID, "ghost"), ErrNotFound)

	require.NoError(t, f.svc.LeaveGroup(f.ctx, g.ID, "cy"))
	assert.Equal(t, RoleNone, f.role(g.ID, "cy"))
	assert.Equal(t, 1, countLogs(f.logs(g.ID), "leave"))

	// Back in bootstrap mode the manager may leave.
	require.NoError(t, f.svc.LeaveGroup(f.ctx, g.ID, "ana"))

	_, err := f.svc.ProposeAction(f.ctx, ActionInput{GroupID: g.ID, ProposerID: "founder", Action: ActionKick, TargetUserID: "bo"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteGroup(f.ctx, g.ID, "bo"), ErrUnauthorized)
	require.NoError(t, f.svc.DeleteGroup(f.ctx, g.ID, "founder"))
	_, err = f.svc.GetGroup(f.ctx, g.ID, "founder")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.logs(g.ID))

	var mirrored bool
	for _, e := range f.audit.entries {
		if e.ActionType == "group_deleted" && e.GroupID == g.ID {
			mirrored = true
		}
	}
	assert.True(t, mirrored)
}

func TestTransparencyGating(t *testing.T) {
	f := newFixture(t)
	private := f.group([]string{"ana", "ben"}, []string{"bo"}, func(in *GroupInput) { in.Transparency = TransparencyPrivate })
	public := f.group([]string{"ana", "ben"}, []string{"bo"}, func(in *GroupInput) { in.Transparency = TransparencyPublic })

	for _, g := range []Group{private, public} {
		_, err := f.svc.ProposeAction(f.ctx, ActionInput{GroupID: g.ID, ProposerID: "ana", Action: ActionPromote, TargetUserID: "bo"})
		require.NoError(t, err)
	}

	views, err := f.svc.ListActiveProposals(f.ctx, private.ID, "ben")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, Tally{Approve: 1}, views[0].Tally)
	assert.Empty(t, views[0].MyVote)

	views, err = f.svc.ListActiveProposals(f.ctx, private.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, ChoiceApprove, views[0].MyVote)

	_, err = f.svc.ListActiveProposals(f.ctx, private.ID, "bo")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.GovernanceLog(f.ctx, private.ID, "stranger", 10)
	assert.ErrorIs(t, err, ErrUnauthorized)

	views, err = f.svc.ListActiveProposals(f.ctx, public.ID, "stranger")
	require.NoError(t, err)
	assert.Len(t, views, 1)
	logs, err := f.svc.GovernanceLog(f.ctx, public.ID, "stranger", 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "proposal_created", logs[0].ActionType)
}

func TestListActiveJoinRequests(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana", "ben"}, []string{"bo", "cy"})

	req, err := f.svc.RequestToJoin(f.ctx, g.ID, "newbie", "")
	require.NoError(t, err)
	_, err = f.svc.HandleJoinRequest(f.ctx, req.ID, "ana", ChoiceReject)
	require.NoError(t, err)

	views, err := f.svc.ListActiveJoinRequests(f.ctx, g.ID, "ana")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, RequestVoting, views[0].Status)
	assert.Equal(t, Tally{Reject: 1}, views[0].Tally)
	assert.Equal(t, ChoiceReject, views[0].MyVote)

	_, err = f.svc.ListActiveJoinRequests(f.ctx, g.ID, "bo")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana"}, nil)
	f.notes.fail = true

	req, err := f.svc.RequestToJoin(f.ctx, g.ID, "newbie", "")
	require.NoError(t, err)
	req, err = f.svc.HandleJoinRequest(f.ctx, req.ID, "ana", ChoiceApprove)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, req.Status)
	assert.Equal(t, RoleMember, f.role(g.ID, "newbie"))
}

type failingLogStore struct{ *InMemory }

func (s failingLogStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.InMemory.InTx(ctx, func(tx Tx) error { return fn(failingLogTx{tx}) })
}

type failingLogTx struct{ Tx }

func (failingLogTx) AppendLog(context.Context, *LogEntry) error {
	return errors.New("log unavailable")
}

func TestLogFailureAbortsOperation(t *testing.T) {
	f := newFixture(t)
	g := f.group(nil, nil)

	svc, err := NewService(failingLogStore{f.store}, WithClock(f.clock.Now), WithNotifier(f.notes))
	require.NoError(t, err)
	_, err = svc.RequestToJoin(f.ctx, g.ID, "newbie", "")
	require.Error(t, err)

	require.NoError(t, f.store.View(f.ctx, func(tx Tx) error {
		_, err := tx.LatestJoinRequest(f.ctx, g.ID, "newbie")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
	assert.Empty(t, f.notes.to("founder", NoteJoinRequested))
}

func TestConcurrentVotesStayUnique(t *testing.T) {
	f := newFixture(t)
	managers := make([]string, 9)
	for i := range managers {
		managers[i] = fmt.Sprintf("m%d", i)
	}
	g := f.group(managers, []string{"bo"})

	p, err := f.svc.ProposeAction(f.ctx, ActionInput{GroupID: g.ID, ProposerID: "founder", Action: ActionKick, TargetUserID: "bo"})
	require.NoError(t, err)
	require.Equal(t, 5, p.RequiredVotes)

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(managers))
	for _, m := range managers {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(voter string) {
				defer wg.Done()
				_, err := f.svc.VoteOnProposal(f.ctx, p.ID, voter, ChoiceApprove)
				errs <- err
			}(m)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrDuplicateVote) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var votes []ProposalVote
	require.NoError(t, f.store.View(f.ctx, func(tx Tx) error {
		var err error
		votes, err = tx.ProposalVotes(f.ctx, p.ID)
		return err
	}))
	seen := map[string]bool{}
	for _, v := range votes {
		assert.False(t, seen[v.VoterID], "duplicate ballot from %s", v.VoterID)
		seen[v.VoterID] = true
	}
	assert.Len(t, votes, 5)
	assert.Equal(t, ProposalApproved, f.proposal(p.ID).Status)
	assert.Equal(t, RoleNone, f.role(g.ID, "bo"))
	f.checkInvariants(g.ID)
}

func TestConcurrentReductionsCannotBothCommit(t *testing.T) {
	f := newFixture(t)
	g := f.group([]string{"ana", "ben"}, []string{"bo", "cy"})

	ra, err := f.svc.TriggerReconfirmation(f.ctx, g.ID, "founder", "ana", "")
	require.NoError(t, err)
	rb, err := f.svc.TriggerReconfirmation(f.ctx, g.ID, "founder", "ben", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{ra.ID, rb.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = f.svc.VoteOnProposal(f.ctx, id, "founder", ChoiceApprove)
		}(i, id)
	}
	wg.Wait()

	var ok, violations int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrGovernanceViolation):
			violations++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, violations)
	assert.Equal(t, 2, ManagerCount(f.counts(g.ID)))
	f.checkInvariants(g.ID)
}
