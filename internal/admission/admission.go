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

// Package admission gates inbound requests with per-(endpoint class,
// identity) token buckets before they reach the dispatcher. Buckets use
// interval-based refill: the full quota returns at fixed window
// boundaries rather than leaking continuously.
package admission

import (
	"fmt"
	"sync"
	"time"
)

// Class identifies a group of endpoints sharing one admission policy.
type Class string

const (
	ClassLogin      Class = "login"
	ClassAuth       Class = "auth"
	ClassUpload     Class = "upload"
	ClassProcessing Class = "processing"
	ClassRead       Class = "read"
)

// Limit is the fixed quota for one endpoint class.
type Limit struct {
	Capacity int
	Window   time.Duration
}

// DefaultLimits returns the built-in per-class quotas. These are fixed at
// startup, not runtime-tunable.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassLogin:      {Capacity: 5, Window: 15 * time.Minute},
		ClassAuth:       {Capacity: 10, Window: time.Minute},
		ClassUpload:     {Capacity: 10, Window: time.Hour},
		ClassProcessing: {Capacity: 20, Window: time.Hour},
		ClassRead:       {Capacity: 60, Window: time.Minute},
	}
}

// Result reports the outcome of an admission check. RetryAfterSeconds is
// the coarse recommended delay until the next window opens; it is zero
// when the request was admitted.
type Result struct {
	Admitted          bool
	Limit             int
	Remaining         int
	RetryAfterSeconds int
	ResetAt           time.Time
}

// bucket holds the live token count for one (class, identity) key. Each
// bucket carries its own lock; the controller lock only guards the map.
type bucket struct {
	mu          sync.Mutex
	tokens      int
	windowStart time.Time
}

// Controller owns the bucket map. Buckets are created lazily on first
// request for a key and are never evicted, so memory grows with the number
// of distinct (class, identity) pairs seen over the process lifetime.
type Controller struct {
	mu      sync.Mutex
	limits  map[Class]Limit
	buckets map[string]*bucket
	now     func() time.Time
}

// NewController creates a controller with the given per-class limits. Pass
// nil to use DefaultLimits.
func NewController(limits map[Class]Limit) *Controller {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Controller{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// TryAdmit consumes one token from the bucket keyed by (class, identity).
// A class without a configured limit admits unconditionally. A rejected
// request carries the recommended retry delay.
func (c *Controller) TryAdmit(class Class, identity string) Result {
	limit, ok := c.limits[class]
	if !ok {
		return Result{Admitted: true}
	}

	b := c.bucketFor(class, identity, limit)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := c.now()
	windowEnd := b.windowStart.Add(limit.Window)
	if !now.Before(windowEnd) {
		b.tokens = limit.Capacity
		b.windowStart = now
		windowEnd = now.Add(limit.Window)
	}

	if b.tokens <= 0 {
		retry := int(windowEnd.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		return Result{
			Admitted:          false,
			Limit:             limit.Capacity,
			RetryAfterSeconds: retry,
			ResetAt:           windowEnd,
		}
	}

	b.tokens--
	return Result{
		Admitted:  true,
		Limit:     limit.Capacity,
		Remaining: b.tokens,
		ResetAt:   windowEnd,
	}
}

// bucketFor looks up or lazily creates the bucket for a key. An absent key
// implies an implicit full bucket.
func (c *Controller) bucketFor(class Class, identity string, limit Limit) *bucket {
	key := fmt.Sprintf("%s:%s", class, identity)

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{tokens: limit.Capacity, windowStart: c.now()}
		c.buckets[key] = b
	}
	return b
}

// BucketCount reports the number of live buckets, useful for dashboards
// watching the growth of the key space.
func (c *Controller) BucketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}
