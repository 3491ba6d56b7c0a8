package label

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"fertiscan/internal/failure"
)

// RetryPolicy controls retries of transient OCR and LLM failures.
type RetryPolicy struct {
	// Delays is the wait before each retry. Its length is the number of
	// retries.
	Delays []time.Duration
}

// DefaultRetryPolicy retries twice, after 1s and then 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{time.Second, 4 * time.Second}}
}

// NoRetry never retries.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// do runs fn until it succeeds, fails with a non-transient error, or the
// retries are used up. It returns the number of attempts made.
func (p RetryPolicy) do(ctx context.Context, log zerolog.Logger, stage string, fn func() error) (int, error) {
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(uint(len(p.Delays)+1)),
		retry.RetryIf(failure.IsTransient),
		// n counts retries from 1 when the delay is computed.
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			if n >= 1 && int(n) <= len(p.Delays) {
				return p.Delays[n-1]
			}
			return 0
		}),
		retry.LastErrorOnly(true),
		// OnRetry also fires after the final attempt, when nothing follows.
		retry.OnRetry(func(n uint, err error) {
			if int(n) >= len(p.Delays) {
				return
			}
			log.Warn().
				Err(err).
				Str("stage", stage).
				Uint("attempt", n+1).
				Int("status", failure.StatusOf(err)).
				Msg("Transient failure, retrying")
		}),
	)

	// A deadline hit while waiting between attempts surfaces as a bare
	// context error.
	if err != nil {
		if ctxErr := failure.FromContext(ctx, stage); ctxErr != nil {
			return attempts, ctxErr
		}
		if failure.IsTransient(err) {
			log.Error().
				Err(err).
				Str("stage", stage).
				Int("attempts", attempts).
				Msg("Retries exhausted")
		}
	}
	return attempts, err
}
