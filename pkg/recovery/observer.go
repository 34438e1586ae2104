package recovery

import "time"

// Observer receives supervisor events. Implementations must not call back into the supervisor.
type Observer interface {
	StateChanged(service string, from, to ConnectionState)
	AttemptFinished(service string, attempt int, err error)
	RetryExhausted(service string, attempts int, elapsed time.Duration)
	HealthChecked(service string, report HealthReport)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, ConnectionState, ConnectionState) {}
func (nopObserver) AttemptFinished(string, int, error)                     {}
func (nopObserver) RetryExhausted(string, int, time.Duration)              {}
func (nopObserver) HealthChecked(string, HealthReport)                     {}
