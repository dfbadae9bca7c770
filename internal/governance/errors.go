package governance

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("governance: unauthorized")
	ErrNotFound            = errors.New("governance: not found")
	ErrInvalidState        = errors.New("governance: invalid state")
	ErrInvalidInput        = errors.New("governance: invalid input")
	ErrDuplicateVote       = errors.New("governance: vote already cast")
	ErrDuplicateProposal   = errors.New("governance: equivalent proposal already active")
	ErrGovernanceViolation = errors.New("governance: anti-centralization rule violated")
	ErrSelfTargeting       = errors.New("governance: action may not target the caller")
	ErrFounderImmune       = errors.New("governance: the founder cannot be targeted")
)

// ErrPromotionRequired is returned when an admission would leave a group above
// the bootstrap size with fewer than two managers. It matches
// ErrGovernanceViolation under errors.Is.
var ErrPromotionRequired = fmt.Errorf("%w: promote a member to manager before admitting more members", ErrGovernanceViolation)

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}
