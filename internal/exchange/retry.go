package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"roomseal/internal/domain"
)

// withRetry runs fn, retrying transient failures with jittered
// exponential backoff. Cryptographic failures are never retried.
func (p *Protocol) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    p.cfg.RetryMin,
		Max:    p.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrCryptoFailure) || errors.Is(err, domain.ErrDecryptFailure) {
			return err
		}
		if attempt >= p.cfg.MaxRetries {
			break
		}
		d := b.Duration()
		p.log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("backoff", d).Err(err).
			Msg("transport call failed, retrying")
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrNetworkFailure, op, err)
}
