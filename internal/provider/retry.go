package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"modelhub/internal/logging"
)

const defaultMaxRetries = 3

// Retry runs op with bounded exponential backoff. Adapters use it for
// single-shot HTTP calls (listing, deletion); transfers and streams are
// never retried here so that failures surface to the state machine.
// Wrap permanent failures with backoff.Permanent to stop early.
func Retry(ctx context.Context, logger *logging.Logger, opName string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		if logger != nil {
			logger.Debug("provider.retry", "Retrying transient failure", map[string]interface{}{
				"op":      opName,
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
				"error":   err.Error(),
			})
		}
	}

	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, defaultMaxRetries), ctx), notify)
}
