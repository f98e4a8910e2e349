// Package worker runs bounded fan-out over a list of inputs.
package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultLimit is the number of operations allowed in flight when limit <= 0.
const DefaultLimit = 3

// Result is the outcome for one input. Index is the input's position.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// RunLimited calls fn for every item with at most limit calls in flight. Items are started
// in submission order, at least delay apart when delay > 0. One failure never stops the
// others; results are returned in input order. Items not started before ctx is done get
// ctx.Err() as their error.
func RunLimited[T, R any](ctx context.Context, items []T, limit int, delay time.Duration, fn func(context.Context, T) (R, error)) []Result[R] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	results := make([]Result[R], len(items))
	for i := range results {
		results[i].Index = i
	}

	sem := semaphore.NewWeighted(int64(limit))
	var pace *rate.Limiter
	if delay > 0 {
		pace = rate.NewLimiter(rate.Every(delay), 1)
	}

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			markRemaining(results[i:], err)
			break
		}
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				sem.Release(1)
				markRemaining(results[i:], err)
				break
			}
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			v, err := fn(ctx, item)
			results[i].Value = v
			results[i].Err = err
			if err != nil {
				log.WithError(err).Debugf("Worker item %d failed", i)
			}
		}(i, item)
	}
	wg.Wait()
	return results
}

func markRemaining[R any](rest []Result[R], err error) {
	for i := range rest {
		rest[i].Err = err
	}
}

// Errors returns the non-nil errors in results, in order.
func Errors[R any](results []Result[R]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
