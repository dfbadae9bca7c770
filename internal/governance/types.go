package governance

import (
	"time"

	"agora.org/internal/ids"
)

// SystemActor is the actor recorded for automatic actions and the target of
// policy proposals.
const SystemActor = "system"

const (
	personProposalTTL = 48 * time.Hour
	policyProposalTTL = 72 * time.Hour

	// bootstrapMaxMembers is the largest group that may run without the
	// two-manager minimum.
	bootstrapMaxMembers = 3
	minManagers         = 2
)

// Role is a member's standing inside a group.
type Role string

const (
	RoleNone    Role = ""
	RoleFounder Role = "founder"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// IsManager reports whether the role counts toward the manager pool.
func (r Role) IsManager() bool { return r == RoleFounder || r == RoleManager }

// Visibility controls whether a group is discoverable.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool { return v == VisibilityPublic || v == VisibilityPrivate }

// Transparency controls who may read proposals and the governance log.
type Transparency string

const (
	// TransparencyPrivate limits governance records to the founder and managers.
	TransparencyPrivate Transparency = "private"
	// TransparencyMembers opens governance records to every member.
	TransparencyMembers Transparency = "members"
	// TransparencyPublic opens governance records to anyone.
	TransparencyPublic Transparency = "public"
)

func (t Transparency) Valid() bool {
	switch t {
	case TransparencyPrivate, TransparencyMembers, TransparencyPublic:
		return true
	}
	return false
}

// Group is a community whose membership is governed by this engine.
type Group struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"description,omitempty"`
	CreatorID        string       `json:"creator_id"`
	Visibility       Visibility   `json:"visibility"`
	Transparency     Transparency `json:"transparency"`
	FounderOnlyRules bool         `json:"founder_only_rules"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Membership maps a user to a role inside a group.
type Membership struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoleCounts is a snapshot of a group's membership broken down by role.
type RoleCounts struct {
	Founders int `json:"founders"`
	Managers int `json:"managers"`
	Members  int `json:"members"`
}

// Total is the number of memberships of any role.
func (c RoleCounts) Total() int { return c.Founders + c.Managers + c.Members }

// Choice is a single ballot.
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceReject  Choice = "reject"
)

func (c Choice) Valid() bool { return c == ChoiceApprove || c == ChoiceReject }

// JoinRequest is a user's application to join a group.
type JoinRequest struct {
	ID            string        `json:"id"`
	GroupID       string        `json:"group_id"`
	UserID        string        `json:"user_id"`
	Message       string        `json:"message,omitempty"`
	Status        RequestStatus `json:"status"`
	RequiredVotes int           `json:"required_votes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

// JoinVote is one manager's ballot on a join request.
type JoinVote struct {
	RequestID string    `json:"request_id"`
	VoterID   string    `json:"voter_id"`
	Choice    Choice    `json:"choice"`
	CastAt    time.Time `json:"cast_at"`
}

// Category separates proposals about people from proposals about group policy.
type Category string

const (
	CategoryPerson Category = "person"
	CategoryPolicy Category = "policy"
)

// ActionType names the effect a proposal has once approved.
type ActionType string

const (
	ActionDemote           ActionType = "demote"
	ActionKick             ActionType = "kick"
	ActionPromote          ActionType = "promote"
	ActionRevertPromotion  ActionType = "revert_promotion"
	ActionRevertDemotion   ActionType = "revert_demotion"
	ActionRevertRemoval    ActionType = "revert_removal"
	ActionReconfirmManager ActionType = "reconfirm_manager"

	ActionApproveFund      ActionType = "approve_fund"
	ActionChangeVisibility ActionType = "change_visibility"
	ActionAmendDescription ActionType = "amend_description"
	ActionCustom           ActionType = "custom"
)

// Category returns the proposal category an action belongs to, or "" when the
// action is unknown.
func (a ActionType) Category() Category {
	switch a {
	case ActionDemote, ActionKick, ActionPromote, ActionRevertPromotion,
		ActionRevertDemotion, ActionRevertRemoval, ActionReconfirmManager:
		return CategoryPerson
	case ActionApproveFund, ActionChangeVisibility, ActionAmendDescription, ActionCustom:
		return CategoryPolicy
	}
	return ""
}

// selfTargetForbidden lists actions a proposer may never aim at themselves.
func (a ActionType) selfTargetForbidden() bool {
	switch a {
	case ActionDemote, ActionKick, ActionReconfirmManager, ActionRevertRemoval:
		return true
	}
	return false
}

// PolicyPayload carries the parameters of a policy proposal.
type PolicyPayload struct {
	Visibility   Visibility        `json:"visibility,omitempty"`
	Description  string            `json:"description,omitempty"`
	FundName     string            `json:"fund_name,omitempty"`
	TargetAmount int64             `json:"target_amount,omitempty"` // minor units
	Currency     string            `json:"currency,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Proposal is a collective decision put to the group's managers.
type Proposal struct {
	ID                  string         `json:"id"`
	GroupID             string         `json:"group_id"`
	Category            Category       `json:"category"`
	ActionType          ActionType     `json:"action_type"`
	ProposerID          string         `json:"proposer_id"`
	TargetUserID        string         `json:"target_user_id"`
	Title               string         `json:"title,omitempty"`
	Description         string         `json:"description,omitempty"`
	Reason              string         `json:"reason,omitempty"`
	Payload             *PolicyPayload `json:"payload,omitempty"`
	Status              ProposalStatus `json:"status"`
	RequiredVotes       int            `json:"required_votes"`
	TotalEligibleVoters int            `json:"total_eligible_voters"`
	CreatedAt           time.Time      `json:"created_at"`
	ExpiresAt           time.Time      `json:"expires_at"`
	ResolvedAt          *time.Time     `json:"resolved_at,omitempty"`
}

// ProposalVote is one manager's ballot on a proposal.
type ProposalVote struct {
	ProposalID string    `json:"proposal_id"`
	VoterID    string    `json:"voter_id"`
	Choice     Choice    `json:"choice"`
	CastAt     time.Time `json:"cast_at"`
}

// Tally counts ballots by choice.
type Tally struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
}

// Total is the number of ballots cast.
func (t Tally) Total() int { return t.Approve + t.Reject }

// LogEntry is an immutable governance log record.
type LogEntry struct {
	ID           string            `json:"id"`
	GroupID      string            `json:"group_id"`
	ActionType   string            `json:"action_type"`
	ActorID      string            `json:"actor_id"`
	TargetUserID string            `json:"target_user_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Fund is a fundraising target approved by an approve_fund proposal.
type Fund struct {
	ID           string    `json:"id"`
	GroupID      string    `json:"group_id"`
	ProposalID   string    `json:"proposal_id"`
	Name         string    `json:"name"`
	TargetAmount int64     `json:"target_amount"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
}

// Priority tells the delivery layer how insistently to surface a notification.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityPassive  Priority = "passive"
)

// Notification is a typed message for one user.
type Notification struct {
	UserID   string            `json:"user_id"`
	Type     string            `json:"type"`
	Priority Priority          `json:"priority"`
	GroupID  string            `json:"group_id,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

func newID() string {
	return ids.New()
}

// ceilHalf returns ceil(n/2) for non-negative n.
func ceilHalf(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 1) / 2
}
