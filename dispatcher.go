/*
Copyright 2025 Docpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docpipe

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SaturationPolicy decides what happens to a task submitted while all
// workers are busy and the queue is full.
type SaturationPolicy int

const (
	// CallerRuns executes the task on the submitting goroutine, applying
	// backpressure to whoever is producing work.
	CallerRuns SaturationPolicy = iota
	// Discard drops the task. Used for best-effort notification work.
	Discard
)

// Dispatcher is a fixed-size worker pool with a bounded task queue. It never
// grows: saturation is handled by the configured policy instead of by
// spawning goroutines.
type Dispatcher struct {
	tasks    chan func()
	policy   SaturationPolicy
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	stopped   bool
	submitted uint64
	discarded uint64
	callerRan uint64
}

// NewDispatcher starts workers goroutines consuming from a queue of the
// given size.
func NewDispatcher(workers, queueSize int, policy SaturationPolicy) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		tasks:  make(chan func(), queueSize),
		policy: policy,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		task()
	}
}

// Submit hands a task to the pool. When the queue is full the behavior
// depends on the saturation policy: CallerRuns executes the task inline
// before returning, Discard drops it. The returned bool reports whether the
// task will run (or ran).
//
// The queue send happens under d.mu so it can never race with the channel
// close in Stop. The send is non-blocking, so the lock is held only briefly;
// a CallerRuns task executes after the lock is released.
func (d *Dispatcher) Submit(task func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.submitted++

	select {
	case d.tasks <- task:
		d.mu.Unlock()
		return true
	default:
	}

	switch d.policy {
	case CallerRuns:
		d.callerRan++
		d.mu.Unlock()
		task()
		return true
	default:
		d.discarded++
		d.mu.Unlock()
		logrus.Warn("dispatcher queue full, discarding task")
		return false
	}
}

// Stop closes the queue and waits up to grace for in-flight tasks to finish.
// Tasks still queued when Stop is called will run before the workers exit.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.tasks)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			logrus.Warn("dispatcher stop timed out, abandoning workers")
		}
	})
}

// Stats reports submission counters since the dispatcher started.
type DispatcherStats struct {
	Submitted uint64 `json:"submitted"`
	Discarded uint64 `json:"discarded"`
	CallerRan uint64 `json:"caller_ran"`
	Queued    int    `json:"queued"`
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherStats{
		Submitted: d.submitted,
		Discarded: d.discarded,
		CallerRan: d.callerRan,
		Queued:    len(d.tasks),
	}
}
