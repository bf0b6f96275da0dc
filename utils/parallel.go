package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel and returns their combined errors. The first
// failure cancels the context the others see; cancellation errors caused by that are dropped.
func RunInParallel(ctx context.Context, fs []SimpleFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		bigErrorMu sync.Mutex
		bigError   error
	)
	storeError := func(err error) {
		bigErrorMu.Lock()
		defer bigErrorMu.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go func() {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
					cancel()
				}
				wg.Done()
			}()
			if err := f(ctx); err != nil {
				storeError(err)
				cancel()
			}
		}()
	}

	wg.Wait()
	return bigError
}
