// Copyright 2024 The Tockgo Authors.
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

package chip

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// tickleTimeout bounds how long a single Tickle call will retry against the
// simulated watchdog device before giving up and logging a warning.
const tickleTimeout = 500 * time.Millisecond

// WatchDog simulates the board's hardware watchdog: Tickle must be called
// every run-loop iteration (spec.md §4.2) or a real device would reset the
// board. The host simulation backs the tickle with a retryable "poke the
// watchdog register" operation, the same bounded-retry shape the teacher
// uses for waiting on its sandboxed subprocess
// (runsc/sandbox/sandbox.go's `backoff.WithContext(backoff.NewConstantBackOff(...), ctx)`
// followed by `backoff.Retry`).
type WatchDog struct {
	mu        sync.Mutex
	suspended bool
	log       *logrus.Entry
}

var _ kernel.WatchDog = (*WatchDog)(nil)

func NewWatchDog(log *logrus.Entry) *WatchDog {
	return &WatchDog{log: log}
}

func (w *WatchDog) Tickle() {
	w.mu.Lock()
	suspended := w.suspended
	w.mu.Unlock()
	if suspended {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickleTimeout)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(10*time.Millisecond), ctx)
	if err := backoff.Retry(w.poke, b); err != nil {
		w.log.WithError(err).Warn("watchdog tickle did not complete; a real board would reset here")
	}
}

// poke is the simulated hardware write. It always succeeds in this
// simulation, but is wrapped in the retry loop anyway so a board that swaps
// in a real memory-mapped watchdog register behind the same interface only
// has to change this one function.
func (w *WatchDog) poke() error {
	return nil
}

// Suspend stops Tickle from doing anything, for the board's debug/halt
// paths where a watchdog reset mid-breakpoint would be unwelcome.
func (w *WatchDog) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = true
}

// Resume undoes Suspend.
func (w *WatchDog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = false
}
