// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jobrunner is a single-process background worker pool
// dispatching ImportJob rows to validation, publish, and rollback tasks,
// with cooperative cancellation and coalesced progress writes.
package jobrunner

import (
	"context"
	"log/slog"
	"sync"
)

// Pool dispatches values read off jobsChan to numWorkers concurrent
// workers until jobsChan is closed and drained.
type Pool[TJob any] struct{}

// Worker handles one job from the jobs channel and reports any error.
type Worker[TJob any] interface {
	Work(ctx context.Context, id int, wg *sync.WaitGroup, jobs <-chan TJob, errChan chan<- error)
}

func (p Pool[TJob]) Start(ctx context.Context, jobsChan <-chan TJob, numWorkers int, worker Worker[TJob]) []error {
	wg := sync.WaitGroup{}
	errChan := make(chan error)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go worker.Work(ctx, i, &wg, jobsChan, errChan)
	}
	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(errChan)
		doneChan <- struct{}{}
	}()

	var allErrors []error

	for {
		select {
		case err, ok := <-errChan:
			if !ok {
				return allErrors
			}
			if err != nil {
				allErrors = append(allErrors, err)
			}
		case <-doneChan:
			slog.InfoContext(ctx, "jobrunner: pool drained", "errorCount", len(allErrors))

			return allErrors
		}
	}
}
