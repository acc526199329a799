package engine

import "time"

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordTurn(status string, duration time.Duration)
	RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordToolExecution(tool string, failed bool, duration time.Duration)
	RecordHandoffTransition(from, to string)
	RecordForwardedMessage()
	RecordExperimentAssignment(experiment, variant string)
	SetActiveSessions(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordTurn(string, time.Duration)                         {}
func (noopMetrics) RecordLLMRequest(string, string, time.Duration, int, int) {}
func (noopMetrics) RecordToolExecution(string, bool, time.Duration)          {}
func (noopMetrics) RecordHandoffTransition(string, string)                   {}
func (noopMetrics) RecordForwardedMessage()                                  {}
func (noopMetrics) RecordExperimentAssignment(string, string)                {}
func (noopMetrics) SetActiveSessions(int)                                    {}
