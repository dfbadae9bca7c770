// Package notify delivers governance notifications outside the engine.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"agora.org/internal/governance"
)

// Log writes every notification as a structured log line.
type Log struct {
	log *zap.Logger
}

// NewLog returns a notifier logging to l.
func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = zap.NewNop()
	}
	return &Log{log: l}
}

func (n *Log) Send(_ context.Context, note governance.Notification) error {
	n.log.Info("notification",
		zap.String("user_id", note.UserID),
		zap.String("type", note.Type),
		zap.String("priority", string(note.Priority)),
		zap.String("group_id", note.GroupID),
		zap.Any("payload", note.Payload),
	)
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is tried;
// the returned error joins all failures.
type Multi []governance.Notifier

func (m Multi) Send(ctx context.Context, note governance.Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ governance.Notifier = (*Log)(nil)
	_ governance.Notifier = Multi(nil)
)
