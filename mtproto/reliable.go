package mtproto

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	backoffMultiplier = 1.5
	backoffJitter     = 0.2
)

// RetryConfig bounds the retry policy applied to every remote call.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per call, first attempt
	// included.
	MaxAttempts int
	// BaseDelay is the backoff before the first retry; subsequent delays
	// grow by 1.5x with +/-20% jitter.
	BaseDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// Reliable decorates a [Client] with the uniform retry policy: transient
// failures (per [IsTransient]) are retried with exponential backoff, a
// dropped connection is re-established before the next attempt, and
// non-retryable failures surface immediately. Local state operations
// (credential import/export, DC info) pass through untouched.
//
// Reliable assumes the single-holder discipline the pool enforces; it is not
// safe for concurrent use on its own.
type Reliable struct {
	inner         Client
	cfg           RetryConfig
	needReconnect bool
}

// NewReliable wraps inner. Out-of-range config values are normalized: at
// least one attempt, a 500ms base delay, and a max delay no smaller than the
// base.
func NewReliable(inner Client, cfg RetryConfig) *Reliable {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Reliable{inner: inner, cfg: cfg}
}

// Inner returns the wrapped client.
func (r *Reliable) Inner() Client { return r.inner }

func (r *Reliable) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BaseDelay
	bo.Multiplier = backoffMultiplier
	bo.RandomizationFactor = backoffJitter
	bo.MaxInterval = r.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	attempt := func() error {
		if r.needReconnect {
			if err := r.inner.Connect(ctx); err != nil {
				if IsTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			r.needReconnect = false
		}

		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConnectionDropped) {
			r.needReconnect = true
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(attempt, policy)
}

func (r *Reliable) Connect(ctx context.Context) error {
	return r.retry(ctx, func() error { return r.inner.Connect(ctx) })
}

// Disconnect is deliberately single-shot: it runs during release/shutdown
// paths where retrying would only delay teardown.
func (r *Reliable) Disconnect() error {
	r.needReconnect = false
	return r.inner.Disconnect()
}

func (r *Reliable) Ping(ctx context.Context) error {
	return r.retry(ctx, func() error { return r.inner.Ping(ctx) })
}

func (r *Reliable) SendVerificationCode(ctx context.Context, phone string) (*SentCode, error) {
	var out *SentCode
	err := r.retry(ctx, func() error {
		sc, err := r.inner.SendVerificationCode(ctx, phone)
		if err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

func (r *Reliable) SignIn(ctx context.Context, phone, codeHash, code string) (*Authorization, error) {
	var out *Authorization
	err := r.retry(ctx, func() error {
		auth, err := r.inner.SignIn(ctx, phone, codeHash, code)
		if err != nil {
			return err
		}
		out = auth
		return nil
	})
	return out, err
}

func (r *Reliable) CheckPassword(ctx context.Context, password string) (*Authorization, error) {
	var out *Authorization
	err := r.retry(ctx, func() error {
		auth, err := r.inner.CheckPassword(ctx, password)
		if err != nil {
			return err
		}
		out = auth
		return nil
	})
	return out, err
}

func (r *Reliable) CurrentUser(ctx context.Context) (*User, error) {
	var out *User
	err := r.retry(ctx, func() error {
		u, err := r.inner.CurrentUser(ctx)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (r *Reliable) ExportCredential() (string, error) {
	return r.inner.ExportCredential()
}

func (r *Reliable) ImportCredential(credential string) error {
	return r.inner.ImportCredential(credential)
}

func (r *Reliable) DCInfo() DC {
	return r.inner.DCInfo()
}
