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

// Package lock provides a single-holder Redis lock used to fence background
// jobs that must not run concurrently across instances, such as the delivery
// retry sweep.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Every lock key lives under one namespace so operators can inspect held
// locks with a single SCAN pattern.
const keyPrefix = "docpipe:lock:"

// unlockScript deletes the key only while the stored token still matches,
// so a lock that expired and was reacquired elsewhere is never released by
// the previous holder.
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Locker is a non-blocking, single-use Redis lock. The fencing token is
// generated per Locker; two Lockers for the same name never share one.
type Locker struct {
	client redis.UniversalClient
	key    string
	token  string
}

// NewLocker prepares a lock on the given name under the docpipe lock
// namespace.
func NewLocker(client redis.UniversalClient, name string) *Locker {
	return &Locker{
		client: client,
		key:    keyPrefix + name,
		token:  uuid.New().String(),
	}
}

// Lock acquires the lock for at most ttl. It does not block or retry: when
// another holder owns the lock an error is returned immediately, which
// callers treat as "the job is already running elsewhere".
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s is already held", l.key)
	}
	return nil
}

// Unlock releases the lock if this Locker still holds it.
func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock %s expired or is held by another owner", l.key)
	}
	return nil
}
