// Package resilience wraps remote calls in exponential backoff and a circuit
// breaker.
package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Settings configures a Policy. Zero values fall back to DefaultSettings.
type Settings struct {
	InitialInterval     time.Duration `yaml:"initialInterval" json:"initialInterval"`
	MaxInterval         time.Duration `yaml:"maxInterval" json:"maxInterval"`
	MaxElapsedTime      time.Duration `yaml:"maxElapsedTime" json:"maxElapsedTime"`
	Multiplier          float64       `yaml:"multiplier" json:"multiplier"`
	RandomizationFactor float64       `yaml:"randomizationFactor" json:"randomizationFactor"`
	MaxRetries          uint64        `yaml:"maxRetries" json:"maxRetries"`
	// breaker
	MaxRequests         uint32        `yaml:"maxRequests" json:"maxRequests"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	OpenTimeout         time.Duration `yaml:"openTimeout" json:"openTimeout"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures" json:"consecutiveFailures"`
}

func DefaultSettings() Settings {
	return Settings{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      time.Minute,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxRetries:          5,
		MaxRequests:         5,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.InitialInterval <= 0 {
		s.InitialInterval = d.InitialInterval
	}
	if s.MaxInterval <= 0 {
		s.MaxInterval = d.MaxInterval
	}
	if s.MaxElapsedTime <= 0 {
		s.MaxElapsedTime = d.MaxElapsedTime
	}
	if s.Multiplier <= 0 {
		s.Multiplier = d.Multiplier
	}
	if s.RandomizationFactor <= 0 {
		s.RandomizationFactor = d.RandomizationFactor
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = d.MaxRequests
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = d.ConsecutiveFailures
	}
	return s
}

// Policy retries an operation with backoff while a circuit breaker guards the
// remote endpoint. A Policy is safe for concurrent use; each Execute gets its
// own backoff state.
type Policy struct {
	settings Settings
	breaker  *gobreaker.CircuitBreaker
}

func NewPolicy(name string, s Settings) *Policy {
	s = s.withDefaults()
	cbs := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// permanent errors are the caller's fault, not the endpoint's
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
	}
	return &Policy{settings: s, breaker: gobreaker.NewCircuitBreaker(cbs)}
}

func (p *Policy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.settings.InitialInterval,
		MaxInterval:         p.settings.MaxInterval,
		MaxElapsedTime:      p.settings.MaxElapsedTime,
		Multiplier:          p.settings.Multiplier,
		RandomizationFactor: p.settings.RandomizationFactor,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	var b backoff.BackOff = eb
	if p.settings.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.settings.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// Execute runs op until it succeeds, fails with a non-retryable error, the
// backoff gives up, or ctx is done. The last error is returned.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	operation := func() error {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, op(ctx)
		})
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, p.newBackOff(ctx))
}

// State reports the breaker state, mostly for logging.
func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}

// Retryable reports whether err is worth another attempt. Azure responses
// with a 4xx status other than 408 and 429 are final, as are context errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusRequestTimeout,
			respErr.StatusCode == http.StatusTooManyRequests:
			return true
		case respErr.StatusCode >= 400 && respErr.StatusCode < 500:
			return false
		}
	}
	return true
}
