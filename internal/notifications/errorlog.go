package notifications

import (
	"go.uber.org/zap"

	"github.com/deskwise/deskwise/pkg/logger"
)

// Severity grades pipeline failures. Critical entries are emitted at zap's
// error level with a severity field because zap has no usable level above
// error that does not terminate the process.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Operation labels attached to pipeline log entries so failures stay
// attributable to the stage that produced them.
const (
	OpNotificationCreate      = "notification.create"
	OpNotificationList        = "notification.list"
	OpNotificationMarkRead    = "notification.mark_read"
	OpNotificationMarkAllRead = "notification.mark_all_read"
	OpNotificationDelete      = "notification.delete"
	OpPushSubscribe           = "push.subscribe"
	OpPushUnsubscribe         = "push.unsubscribe"
	OpPushSend                = "push.send"
	OpPushDispatch            = "push.dispatch"
	OpWebSocketBroadcast      = "websocket.broadcast"
	OpCleanupRun              = "cleanup.run"
)

// ErrorLogger records notification pipeline failures with a uniform shape:
// an operation label, the failure value, a severity grade and an open context
// bag recorded under a single context field so entries cannot clobber the
// fixed keys.
type ErrorLogger struct {
	log *zap.Logger
}

// NewErrorLogger builds an ErrorLogger backed by the global logger.
func NewErrorLogger() *ErrorLogger {
	return &ErrorLogger{log: logger.WithModule("notifications")}
}

// NewErrorLoggerWith builds an ErrorLogger writing to the supplied zap logger.
func NewErrorLoggerWith(log *zap.Logger) *ErrorLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ErrorLogger{log: log}
}

// Log records a single pipeline failure. The failure value is usually an
// error but recovered panic values arrive as strings, numbers or plain maps;
// anything non-nil is recorded as-is. It must never panic; logging cannot be
// allowed to take down a delivery loop.
func (l *ErrorLogger) Log(operation string, err any, severity Severity, context map[string]any) {
	if l == nil || l.log == nil {
		return
	}

	fields := make([]zap.Field, 0, 4)
	fields = append(fields,
		zap.String("operation", operation),
		zap.String("severity", string(severity)),
	)
	switch v := err.(type) {
	case nil:
	case error:
		fields = append(fields, zap.Error(v))
	default:
		fields = append(fields, zap.Any("error", v))
	}
	if len(context) > 0 {
		fields = append(fields, zap.Any("context", context))
	}

	switch severity {
	case SeverityInfo:
		l.log.Info(operation, fields...)
	case SeverityWarning:
		l.log.Warn(operation, fields...)
	default:
		// error and critical both land on the error level; critical is
		// distinguished by the severity field.
		l.log.Error(operation, fields...)
	}
}

// Info records an informational pipeline event.
func (l *ErrorLogger) Info(operation string, err any, context map[string]any) {
	l.Log(operation, err, SeverityInfo, context)
}

// Warning records a recoverable pipeline failure.
func (l *ErrorLogger) Warning(operation string, err any, context map[string]any) {
	l.Log(operation, err, SeverityWarning, context)
}

// Error records a pipeline failure that lost work.
func (l *ErrorLogger) Error(operation string, err any, context map[string]any) {
	l.Log(operation, err, SeverityError, context)
}

// Critical records a failure that threatens the pipeline itself.
func (l *ErrorLogger) Critical(operation string, err any, context map[string]any) {
	l.Log(operation, err, SeverityCritical, context)
}
