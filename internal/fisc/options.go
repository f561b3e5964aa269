package fisc

import "log/slog"

// MetricsRecorder receives client lifecycle counters. Defined locally
// so fisc does not import internal/metrics directly, avoiding an
// import cycle as the metrics package grows.
type MetricsRecorder interface {
	IncSent()
	IncReceived()
	IncReconnectAttempt()
	IncStateTransition()
	SetPendingSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncSent()             {}
func (noopMetrics) IncReceived()         {}
func (noopMetrics) IncReconnectAttempt() {}
func (noopMetrics) IncStateTransition()  {}
func (noopMetrics) SetPendingSize(int)   {}

// Option configures optional Client parameters.
type Option func(*Client)

// WithLogger attaches a logger. If logger is nil, a discard logger is
// used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches a MetricsRecorder. If mr is nil, the default
// no-op recorder is used.
func WithMetrics(mr MetricsRecorder) Option {
	return func(c *Client) {
		if mr != nil {
			c.metrics = mr
		}
	}
}
