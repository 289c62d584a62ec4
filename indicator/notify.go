package indicator

import "github.com/rs/zerolog"

// Notifier is the fire-and-forget user notification sink. Calls are never
// awaited or retried; a lost notification is acceptable, a blocked
// workflow is not.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}

// LogNotifier forwards notifications to a structured logger. Servers use
// this; interactive frontends substitute their own toast sink.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Success(msg string) {
	n.Log.Info().Str("notify", "success").Msg(msg)
}

func (n LogNotifier) Error(msg string) {
	n.Log.Error().Str("notify", "error").Msg(msg)
}
