package dicekv

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates the circuit breaker
// guarding a server. Only failures that evict the connection count: a
// command rejected by the server or by validation does not trip the breaker.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[*Response] {
	return func(serverAddr string) *gobreaker.CircuitBreaker[*Response] {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return !ShouldEvict(err)
			},
		}
		return gobreaker.NewCircuitBreaker[*Response](settings)
	}
}
