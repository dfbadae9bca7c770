package governance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notification types emitted by the engine.
const (
	NoteJoinRequested         = "join_requested"
	NoteJoinApproved          = "join_approved"
	NoteJoinRejected          = "join_rejected"
	NoteMemberJoined          = "member_joined"
	NoteProposalCreated       = "proposal_created"
	NoteProposalTargeted      = "proposal_targeted"
	NoteProposalResolved      = "proposal_resolved"
	NoteRemoved               = "removed_from_group"
	NoteReconfirmation        = "reconfirmation_started"
	NoteReconfirmationOutcome = "reconfirmation_resolved"
	NoteFounderTransferred    = "founder_transferred"
	NoteGroupDeleted          = "group_deleted"
)

// Notifier delivers a notification to a user. Delivery is best effort: errors are
// logged and never undo the governance change that produced the notification.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// AuditSink receives a copy of every committed governance log entry.
type AuditSink interface {
	Record(ctx context.Context, e LogEntry)
}

// Metrics observes engine outcomes.
type Metrics interface {
	ProposalCreated(category Category, action ActionType)
	Resolved(kind, outcome string)
	VoteCast(kind string)
	NotificationFailed()
	SweepResolved(n int)
}

// Service runs the governance engine on top of a Store.
type Service struct {
	store          Store
	notifier       Notifier
	audit          AuditSink
	metrics        Metrics
	log            *zap.Logger
	now            func() time.Time
	rejoinCooldown time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("governance: clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithAuditSink mirrors committed log entries to a.
func WithAuditSink(a AuditSink) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// WithMetrics sets the outcome observer.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithRejoinCooldown makes a rejected user wait d before requesting to join the
// same group again. Zero disables the cooldown.
func WithRejoinCooldown(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d < 0 {
			return errors.New("governance: rejoin cooldown must not be negative")
		}
		s.rejoinCooldown = d
		return nil
	}
}

// NewService constructs the engine.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("governance: store is required")
	}
	s := &Service{
		store:    store,
		notifier: nopNotifier{},
		audit:    nopAudit{},
		metrics:  nopMetrics{},
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// effects collects what a transaction wants to announce once it commits. A
// fresh value is used for every attempt so retried transactions do not
// announce twice.
type effects struct {
	notes  []Notification
	logs   []LogEntry
	counts []func(Metrics)
}

func (fx *effects) notify(userID, typ string, prio Priority, groupID string, payload map[string]string) {
	fx.notes = append(fx.notes, Notification{
		UserID:   userID,
		Type:     typ,
		Priority: prio,
		GroupID:  groupID,
		Payload:  payload,
	})
}

func (fx *effects) count(fn func(Metrics)) {
	fx.counts = append(fx.counts, fn)
}

// mutate runs fn in a write transaction and dispatches its effects after commit.
func (s *Service) mutate(ctx context.Context, fn func(tx Tx, fx *effects) error) error {
	var fx *effects
	err := s.store.InTx(ctx, func(tx Tx) error {
		fx = &effects{}
		return fn(tx, fx)
	})
	if err != nil {
		return err
	}
	s.dispatch(ctx, fx)
	return nil
}

func (s *Service) dispatch(ctx context.Context, fx *effects) {
	for _, e := range fx.logs {
		s.audit.Record(ctx, e)
	}
	for _, fn := range fx.counts {
		fn(s.metrics)
	}
	for _, n := range fx.notes {
		if err := s.notifier.Send(ctx, n); err != nil {
			s.metrics.NotificationFailed()
			s.log.Warn("notification failed",
				zap.String("user_id", n.UserID),
				zap.String("type", n.Type),
				zap.String("group_id", n.GroupID),
				zap.Error(err))
		}
	}
}

// appendLog writes e inside tx. A failed append fails the whole operation.
func (s *Service) appendLog(ctx context.Context, tx Tx, fx *effects, e LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := tx.AppendLog(ctx, &e); err != nil {
		return err
	}
	fx.logs = append(fx.logs, e)
	return nil
}

// notifyMembers queues n for every member of the group matching keep, except
// the listed users.
func notifyMembers(ctx context.Context, tx Tx, fx *effects, groupID string, keep func(Role) bool, typ string, prio Priority, payload map[string]string, except ...string) error {
	members, err := tx.Members(ctx, groupID)
	if err != nil {
		return err
	}
outer:
	for _, m := range members {
		if keep != nil && !keep(m.Role) {
			continue
		}
		for _, x := range except {
			if m.UserID == x {
				continue outer
			}
		}
		fx.notify(m.UserID, typ, prio, groupID, payload)
	}
	return nil
}

func managersOnly(r Role) bool { return r.IsManager() }

func requireID(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return wrapf(ErrInvalidInput, "%s is required", name)
	}
	return nil
}

// requireManager returns the actor's role, failing unless it holds a manager seat.
func requireManager(ctx context.Context, tx Tx, groupID, userID string) (Role, error) {
	role, err := tx.Role(ctx, groupID, userID)
	if err != nil {
		return RoleNone, err
	}
	if !role.IsManager() {
		return role, wrapf(ErrUnauthorized, "%s is not a manager of group %s", userID, groupID)
	}
	return role, nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, Notification) error { return nil }

type nopAudit struct{}

func (nopAudit) Record(context.Context, LogEntry) {}

type nopMetrics struct{}

func (nopMetrics) ProposalCreated(Category, ActionType) {}
func (nopMetrics) Resolved(string, string)              {}
func (nopMetrics) VoteCast(string)                      {}
func (nopMetrics) NotificationFailed()                  {}
func (nopMetrics) SweepResolved(int)                    {}
