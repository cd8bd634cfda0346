package service

import (
	"context"
	"time"

	"sales-service/config"
	"sales-service/internal/apperror"

	"github.com/cenkalti/backoff/v4"
)

// Options tunes the services
type Options struct {
	Currency            string
	StoreTimeout        time.Duration
	IdempotencyTTL      time.Duration
	CancelAllLockTTL    time.Duration
	BestEffortRetries   uint64
	BestEffortBaseDelay time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Currency:            cfg.Stripe.Currency,
		StoreTimeout:        cfg.Business.StoreTimeout,
		IdempotencyTTL:      cfg.Business.IdempotencyTTL,
		CancelAllLockTTL:    cfg.Business.CancelAllLockTTL,
		BestEffortRetries:   cfg.Business.BestEffortRetries,
		BestEffortBaseDelay: cfg.Business.BestEffortBaseDelay,
	}
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = "eur"
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.CancelAllLockTTL <= 0 {
		o.CancelAllLockTTL = 2 * time.Minute
	}
	if o.BestEffortBaseDelay <= 0 {
		o.BestEffortBaseDelay = 200 * time.Millisecond
	}
	return o
}

// retry runs op with exponential backoff, at most BestEffortRetries extra
// times. Client-facing errors stop the retries at once.
func (o Options) retry(ctx context.Context, op func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.BestEffortBaseDelay
	exp.MaxInterval = 10 * o.BestEffortBaseDelay
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, o.BestEffortRetries), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && apperror.IsClientFacing(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// storeCall bounds a single persistence call by StoreTimeout
func (o Options) storeCall(ctx context.Context, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.StoreTimeout)
	defer cancel()
	return op(ctx)
}
