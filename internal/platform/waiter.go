package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
)

// Confirmation polling defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 60 * time.Second
)

// Waiter blocks until a mutation's effect is visible on the remote service.
type Waiter struct {
	client   *Client
	Interval time.Duration
	Timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewWaiter creates a Waiter with the default 2s interval and 60s ceiling.
func NewWaiter(client *Client, logger *slog.Logger, m *metrics.Recorder) *Waiter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Waiter{
		client:   client,
		Interval: DefaultPollInterval,
		Timeout:  DefaultPollTimeout,
		logger:   logger,
		metrics:  m,
	}
}

// WaitForDeletion confirms that the resource at target is gone. Without a
// parent it polls target until 404. With a parent it polls the parent's detail
// until target no longer appears in kind.ChildrenField; a parent that is itself
// gone counts as confirmation. Hitting the ceiling returns *TimeoutError, which
// callers treat as a warning.
func (w *Waiter) WaitForDeletion(ctx context.Context, kind models.ResourceKind, target, parentTarget string) error {
	strategy := "self"
	cond := w.goneCondition(target)
	if parentTarget != "" {
		strategy = "parent"
		cond = w.unreferencedCondition(kind, target, parentTarget)
	}
	return w.poll(ctx, strategy, target, cond)
}

// WaitForGone polls target until it answers 404. It suits resources that are
// not part of a hierarchy.
func (w *Waiter) WaitForGone(ctx context.Context, target string) error {
	return w.poll(ctx, "self", target, w.goneCondition(target))
}

// WaitForPresence confirms that target answers with 2xx, e.g. after a create.
func (w *Waiter) WaitForPresence(ctx context.Context, target string) error {
	return w.poll(ctx, "presence", target, func(ctx context.Context) (bool, error) {
		_, err := w.client.Get(ctx, target, nil)
		if err == nil {
			return true, nil
		}
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	})
}

func (w *Waiter) poll(ctx context.Context, strategy, target string, cond wait.ConditionWithContextFunc) error {
	err := wait.PollUntilContextTimeout(ctx, w.Interval, w.Timeout, true, cond)
	if err == nil {
		return nil
	}
	if wait.Interrupted(err) && ctx.Err() == nil {
		w.metrics.ConfirmationTimeout(strategy)
		return &TimeoutError{Target: target, Waited: w.Timeout}
	}
	return err
}

func (w *Waiter) goneCondition(target string) wait.ConditionWithContextFunc {
	return func(ctx context.Context) (bool, error) {
		_, err := w.client.Get(ctx, target, nil)
		if err == nil {
			return false, nil
		}
		if IsNotFound(err) {
			return true, nil
		}
		var ae *AuthError
		if errors.As(err, &ae) {
			return false, err
		}
		w.logger.Debug("confirmation poll failed, will retry", "target", target, "error", err)
		return false, nil
	}
}

func (w *Waiter) unreferencedCondition(kind models.ResourceKind, target, parentTarget string) wait.ConditionWithContextFunc {
	targetURL := w.client.URL(target)
	return func(ctx context.Context) (bool, error) {
		var parent models.Resource
		err := w.client.GetJSON(ctx, parentTarget, nil, &parent)
		if err != nil {
			if IsNotFound(err) {
				return true, nil
			}
			var ae *AuthError
			if errors.As(err, &ae) {
				return false, err
			}
			w.logger.Debug("confirmation poll failed, will retry", "parent", parentTarget, "error", err)
			return false, nil
		}
		return !referencesChild(parent, kind.ChildrenField, targetURL), nil
	}
}

// referencesChild reports whether parent's children list still holds childURL.
// Entries are compared by the trailing id segment so absolute and relative
// forms of the same URL match.
func referencesChild(parent models.Resource, field, childURL string) bool {
	list, ok := parent[field].([]interface{})
	if !ok {
		return false
	}
	want := models.RefID(childURL)
	for _, item := range list {
		ref, _ := item.(string)
		if ref == "" {
			if m, ok := item.(map[string]interface{}); ok {
				ref = fmt.Sprint(m["url"])
			}
		}
		if strings.TrimRight(ref, "/") == strings.TrimRight(childURL, "/") || (want != "" && models.RefID(ref) == want) {
			return true
		}
	}
	return false
}
