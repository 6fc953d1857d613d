package httpx

import (
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// retryTransport is an http.RoundTripper wrapping a base transport with
// the same retry/circuit-breaker policy shape as Client, for callers
// that hand their HTTP client to a third-party SDK (e.g. adshao/go-binance/v2)
// instead of driving requests through Client.Get/Post directly.
type retryTransport struct {
	base     http.RoundTripper
	pipeline failsafe.Executor[*http.Response]
}

// NewRoundTripper builds an http.RoundTripper that retries network
// errors/5xx/429 up to 3 times (4 attempts in all) with 100ms-2s
// backoff and trips a
// circuit breaker after 5 of the last 10 requests fail with 5xx. Use it
// as the Transport of an *http.Client handed to an SDK's constructor so
// every request the SDK issues gets the same resilience as calls made
// through Client.
func NewRoundTripper() http.RoundTripper {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &retryTransport{
		base:     http.DefaultTransport,
		pipeline: failsafe.With[*http.Response](retryPolicy, breaker),
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return t.base.RoundTrip(req)
	})
}
