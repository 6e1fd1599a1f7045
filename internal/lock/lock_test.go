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

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLockerAcquires(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "retry:sweep")

	mock.ExpectSetNX("docpipe:lock:retry:sweep", locker.token, 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerRejectsHeldLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "retry:sweep")

	mock.ExpectSetNX("docpipe:lock:retry:sweep", locker.token, 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock docpipe:lock:retry:sweep is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerUnlocksOwnToken(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "retry:sweep")

	mock.ExpectEval(unlockScript, []string{"docpipe:lock:retry:sweep"}, locker.token).SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerUnlockRefusedForLostLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "retry:sweep")

	// The key expired, or another instance reacquired it with its own token.
	mock.ExpectEval(unlockScript, []string{"docpipe:lock:retry:sweep"}, locker.token).SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "lock docpipe:lock:retry:sweep expired or is held by another owner")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockersNeverShareTokens(t *testing.T) {
	db, _ := redismock.NewClientMock()

	a := NewLocker(db, "retry:sweep")
	b := NewLocker(db, "retry:sweep")
	assert.NotEqual(t, a.token, b.token)
}
