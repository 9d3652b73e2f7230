package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// RetryPolicy bounds a caller-side retry loop.
type RetryPolicy struct {
	Wait    time.Duration
	Retries int
}

// DefaultRetryPolicy suits lock contention on a single SQLite writer.
var DefaultRetryPolicy = RetryPolicy{Wait: 50 * time.Millisecond, Retries: 5}

// RetryOnConflict runs op until it stops failing with a revision conflict.
// op must re-read the object and reapply its change on every call. Any
// other error ends the loop and is returned as is.
//
//	err := store.RetryOnConflict(ctx, store.DefaultRetryPolicy, func() error {
//	    obj, err := svc.GetObject(ctx, serial, key)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = svc.PutObject(ctx, serial, key, obj.Revision, merge(obj.Value))
//	    return err
//	})
func RetryOnConflict(ctx context.Context, p RetryPolicy, op func() error) error {
	return retry(ctx, p, op, func(err error) bool {
		return errors.Is(err, storeerr.ErrRevisionConflict)
	})
}

// RetryTransient runs op until it stops failing with a temporary
// infrastructure error (database busy or locked). Domain errors are never
// retried.
func RetryTransient(ctx context.Context, p RetryPolicy, op func() error) error {
	return retry(ctx, p, op, storeerr.IsTemporary)
}

func retry(ctx context.Context, p RetryPolicy, op func() error, retryable func(error) bool) error {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(p.Wait),
		uint64(retries),
	)

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
