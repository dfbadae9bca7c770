package governance

import "fmt"

// RequestStatus is the lifecycle state of a join request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestVoting   RequestStatus = "voting"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending: {RequestVoting, RequestApproved, RequestRejected},
	RequestVoting:  {RequestApproved, RequestRejected},
}

// Open reports whether the request still awaits a decision.
func (s RequestStatus) Open() bool { return s == RequestPending || s == RequestVoting }

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool { return len(requestTransitions[s]) == 0 }

// CanTransition reports whether the transition table allows s -> next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalVoting   ProposalStatus = "voting"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalVoting: {ProposalApproved, ProposalRejected, ProposalExpired},
}

// Terminal reports whether no further transition is possible.
func (s ProposalStatus) Terminal() bool { return len(proposalTransitions[s]) == 0 }

// CanTransition reports whether the transition table allows s -> next.
func (s ProposalStatus) CanTransition(next ProposalStatus) bool {
	for _, allowed := range proposalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (r *JoinRequest) transition(next RequestStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: join request %s cannot move from %s to %s", ErrInvalidState, r.ID, r.Status, next)
	}
	r.Status = next
	return nil
}

func (p *Proposal) transition(next ProposalStatus) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: proposal %s cannot move from %s to %s", ErrInvalidState, p.ID, p.Status, next)
	}
	p.Status = next
	return nil
}
