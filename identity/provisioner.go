package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/tma-auth-gateway/initdata"
	"github.com/upb/tma-auth-gateway/internal/shared"
)

const (
	defaultMaxRetries    = 2
	defaultRetryInterval = 100 * time.Millisecond
	defaultCallTimeout   = 30 * time.Second
)

// Provisioner makes sure every verified user has exactly one account.
// Concurrent calls for the same subject share a single round trip.
type Provisioner struct {
	store         AccountStore
	cache         SubjectCache
	logger        *zap.Logger
	maxRetries    int
	retryInterval time.Duration
	callTimeout   time.Duration
	group         singleflight.Group
}

// ProvisionerOption configures a Provisioner
type ProvisionerOption func(*Provisioner)

// WithSubjectCache skips the store lookup for recently seen subjects.
func WithSubjectCache(cache SubjectCache) ProvisionerOption {
	return func(p *Provisioner) {
		p.cache = cache
	}
}

// WithMaxRetries sets how many times a failed store call is retried.
func WithMaxRetries(n int) ProvisionerOption {
	return func(p *Provisioner) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithRetryInterval sets the first backoff delay.
func WithRetryInterval(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.retryInterval = d
		}
	}
}

// WithCallTimeout bounds a shared lookup/create round trip. The round trip
// does not inherit any single caller's cancellation.
func WithCallTimeout(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// NewProvisioner creates a provisioner over store.
func NewProvisioner(store AccountStore, logger *zap.Logger, opts ...ProvisionerOption) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provisioner{
		store:         store,
		logger:        logger,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		callTimeout:   defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns the subject for identity, creating the account when it does
// not exist yet. created reports whether this call created it. Any store
// failure is returned as a ProvisioningFailure.
func (p *Provisioner) Ensure(ctx context.Context, identity *initdata.Identity) (string, bool, error) {
	subject := SubjectID(identity.ExternalID)

	if p.cache != nil {
		known, err := p.cache.Known(ctx, subject)
		if err != nil {
			p.logger.Warn("subject cache lookup failed", zap.String("subject", subject), zap.Error(err))
		} else if known {
			return subject, false, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", false, shared.ProvisioningFailure(err)
	}

	// only the caller whose function ran reports the creation
	leader := false
	ch := p.group.DoChan(subject, func() (interface{}, error) {
		leader = true
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
		defer cancel()
		return p.ensure(callCtx, subject, identity)
	})

	select {
	case <-ctx.Done():
		return "", false, shared.ProvisioningFailure(fmt.Errorf("ensure %s: %w", subject, ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		created := res.Val.(bool) && leader
		return subject, created, nil
	}
}

func (p *Provisioner) ensure(ctx context.Context, subject string, identity *initdata.Identity) (bool, error) {
	found, err := retry(ctx, p, "lookup", func() (bool, error) {
		_, found, err := p.store.LookupAccount(ctx, subject)
		return found, err
	})
	if err != nil {
		return false, shared.ProvisioningFailure(fmt.Errorf("lookup %s: %w", subject, err))
	}
	if found {
		p.remember(ctx, subject)
		return false, nil
	}

	account := NewAccount(identity)
	_, err = retry(ctx, p, "create", func() (struct{}, error) {
		return struct{}{}, p.store.CreateAccount(ctx, account)
	})
	if errors.Is(err, ErrAccountExists) {
		p.logger.Info("account created concurrently elsewhere", zap.String("subject", subject))
		p.remember(ctx, subject)
		return false, nil
	}
	if err != nil {
		return false, shared.ProvisioningFailure(fmt.Errorf("create %s: %w", subject, err))
	}

	p.logger.Info("account created", zap.String("subject", subject))
	p.remember(ctx, subject)
	return true, nil
}

func (p *Provisioner) remember(ctx context.Context, subject string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Remember(ctx, subject); err != nil {
		p.logger.Warn("subject cache write failed", zap.String("subject", subject), zap.Error(err))
	}
}

func retry[T any](ctx context.Context, p *Provisioner, op string, fn func() (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.retryInterval
	expBackoff.MaxInterval = 20 * p.retryInterval
	expBackoff.Reset()

	operation := func() (T, error) {
		v, err := fn()
		if err != nil && !retryable(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(p.maxRetries+1)), // #nosec G115 -- maxRetries is non-negative
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Warn("account store call failed, retrying",
				zap.String("op", op), zap.Duration("backoff", d), zap.Error(err))
		}),
	)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrAccountExists) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
