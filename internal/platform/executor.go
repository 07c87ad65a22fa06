package platform

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rflorenc/treeops/internal/metrics"
)

// Request is one mutation against the remote API.
type Request struct {
	Method  string
	Target  string // path relative to the API root, or an absolute URL
	Payload interface{}
}

// Attempt records the state of a mutation after its last try.
type Attempt struct {
	Target         string
	Method         string
	AttemptCount   int
	LastStatusCode int
}

// Executor is the only component that changes remote state. Each HTTP method
// has its own retry policy; methods without one are never retried.
type Executor struct {
	client   *Client
	policies map[string]RetryPolicy
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewExecutor creates an Executor that retries DELETE on conflict and nothing else.
func NewExecutor(client *Client, logger *slog.Logger, m *metrics.Recorder) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		client:   client,
		policies: map[string]RetryPolicy{http.MethodDelete: DeletePolicy()},
		logger:   logger,
		metrics:  m,
	}
}

// SetPolicy replaces the retry policy used for method.
func (e *Executor) SetPolicy(method string, p RetryPolicy) {
	e.policies[method] = p
}

// Policy returns the retry policy used for method.
func (e *Executor) Policy(method string) RetryPolicy {
	if p, ok := e.policies[method]; ok {
		return p
	}
	return NoRetry()
}

// Execute issues req, repeating it while the method's policy allows. A DELETE
// answered with 404 counts as done. Any other non-2xx final status is returned as *AuthError, *ConflictError or *MutationError
// together with the last response.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	policy := e.Policy(req.Method)
	attempt := Attempt{Target: req.Target, Method: req.Method}

	for {
		attempt.AttemptCount++
		resp, err := e.client.Do(ctx, req.Method, req.Target, req.Payload)
		if err != nil {
			return nil, err
		}
		attempt.LastStatusCode = resp.StatusCode

		if resp.OK() {
			e.metrics.Mutation(req.Method, resp.StatusCode)
			return resp, nil
		}
		if resp.Gone(req.Method) {
			e.metrics.Mutation(req.Method, resp.StatusCode)
			e.logger.Info("delete target already gone", "target", req.Target, "attempts", attempt.AttemptCount)
			return resp, nil
		}

		if !policy.ShouldRetry(attempt.AttemptCount, resp.StatusCode) {
			e.metrics.Mutation(req.Method, resp.StatusCode)
			err := statusError(req.Method, e.client.URL(req.Target), resp.StatusCode, resp.Body, attempt.AttemptCount)
			e.logger.Error("mutation failed",
				"method", req.Method, "target", req.Target,
				"status", resp.StatusCode, "attempts", attempt.AttemptCount,
				"body", truncate(string(resp.Body), 500))
			return resp, err
		}

		e.metrics.Retry(req.Method)
		e.logger.Warn("retryable status, waiting before next attempt",
			"method", req.Method, "target", req.Target,
			"status", resp.StatusCode, "attempt", attempt.AttemptCount,
			"max_attempts", policy.MaxRetries+1, "delay", policy.Delay)
		if err := policy.wait(ctx); err != nil {
			return resp, err
		}
	}
}
