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

// Package breaker implements a sliding-window failure detector for the
// processing pipeline. The breaker is advisory: it never blocks calls
// itself, callers consult IsOpen to decide whether to shed load.
package breaker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWindowSize       = 100
	DefaultMinSamples       = 10
	DefaultThresholdPercent = 50
)

// Status is a point-in-time snapshot of the breaker.
type Status struct {
	Open              bool  `json:"is_open"`
	FailurePercentage int   `json:"failure_percentage"`
	FailureThreshold  int   `json:"failure_threshold"`
	WindowSize        int   `json:"window_size"`
	FailureCount      int   `json:"failure_count"`
	SuccessCount      int   `json:"success_count"`
	TotalFailures     int64 `json:"total_failures"`
	TotalSuccesses    int64 `json:"total_successes"`
}

// Breaker keeps a fixed-capacity FIFO window of recent outcome booleans
// plus lifetime counters. The window is a ring buffer so steady-state
// recording never allocates; head is the next write slot, which holds the
// oldest sample once the ring is full. All state is guarded by a single
// mutex and the window reflects arrival order of Record calls.
type Breaker struct {
	mu               sync.Mutex
	window           []bool
	head             int
	count            int
	failures         int
	minSamples       int
	thresholdPercent int
	totalFailures    int64
	totalSuccesses   int64
}

// New creates a breaker with the given window capacity, minimum sample
// count and failure threshold percentage. Non-positive arguments fall back
// to the defaults.
func New(capacity, minSamples, thresholdPercent int) *Breaker {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultThresholdPercent
	}
	return &Breaker{
		window:           make([]bool, capacity),
		minSamples:       minSamples,
		thresholdPercent: thresholdPercent,
	}
}

// RecordSuccess pushes a success sample into the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(true)
	b.totalSuccesses++
}

// RecordFailure pushes a failure sample into the window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(false)
	b.totalFailures++
	if b.openLocked() {
		logrus.WithFields(logrus.Fields{
			"failure_threshold": b.thresholdPercent,
			"window_size":       b.count,
		}).Warn("circuit breaker open: pipeline failure rate above threshold")
	}
}

// push writes a sample over the oldest ring slot, keeping the running
// failure tally in step with whatever it evicts.
func (b *Breaker) push(success bool) {
	if b.count == len(b.window) {
		if !b.window[b.head] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.window[b.head] = success
	b.head = (b.head + 1) % len(b.window)
	if !success {
		b.failures++
	}
}

// IsOpen returns false until the window holds at least the minimum sample
// count; thereafter it is true iff the failure percentage of the window
// meets or exceeds the threshold.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Breaker) openLocked() bool {
	if b.count < b.minSamples {
		return false
	}
	return b.failurePercentLocked() >= b.thresholdPercent
}

func (b *Breaker) failurePercentLocked() int {
	if b.count == 0 {
		return 0
	}
	return b.failures * 100 / b.count
}

// Status reports open/closed, the live failure percentage, the threshold,
// window occupancy and lifetime totals.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Open:              b.openLocked(),
		FailurePercentage: b.failurePercentLocked(),
		FailureThreshold:  b.thresholdPercent,
		WindowSize:        b.count,
		FailureCount:      b.failures,
		SuccessCount:      b.count - b.failures,
		TotalFailures:     b.totalFailures,
		TotalSuccesses:    b.totalSuccesses,
	}
}

// Reset clears the window and lifetime counters unconditionally. This is a
// manual operator override and does not require the breaker to be open.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
	b.failures = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	logrus.Info("circuit breaker reset")
}
