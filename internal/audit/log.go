package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agora.org/internal/auth"
	"agora.org/internal/governance"
	"agora.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func contextFields(ctx context.Context) []zap.Field {
	fields := []zap.Field{zap.Bool("audit", true)}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", userID))
	}
	return fields
}

// LogEvent writes an audit line enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := contextFields(ctx)
	zf = append(zf, zap.String("event", event), zap.Any("fields", fields))
	obs.Logger().Info("audit", zf...)
	return nil
}

// Sink mirrors committed governance log entries to a structured logger.
type Sink struct {
	log *zap.Logger
}

var _ governance.AuditSink = (*Sink)(nil)

// NewSink returns a sink writing to l, or to the shared logger when l is nil.
func NewSink(l *zap.Logger) *Sink {
	return &Sink{log: l}
}

func (s *Sink) logger() *zap.Logger {
	if s == nil || s.log == nil {
		return obs.Logger()
	}
	return s.log
}

// Record implements governance.AuditSink.
func (s *Sink) Record(ctx context.Context, e governance.LogEntry) {
	fields := contextFields(ctx)
	fields = append(fields,
		zap.String("event", "governance."+e.ActionType),
		zap.String("entry_id", e.ID),
		zap.String("group_id", e.GroupID),
		zap.String("actor_id", e.ActorID),
		zap.Time("at", e.CreatedAt),
	)
	if e.TargetUserID != "" {
		fields = append(fields, zap.String("target_user_id", e.TargetUserID))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields = append(fields, zap.Object("details", detailMap{keys: keys, m: e.Details}))
	}
	s.logger().Info("audit", fields...)
}

type detailMap struct {
	keys []string
	m    map[string]string
}

func (d detailMap) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range d.keys {
		enc.AddString(k, d.m[k])
	}
	return nil
}
