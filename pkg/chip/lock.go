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
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// StateLock guards a board's simulated hardware state directory (the file
// standing in for the chip's persistent registers, flash image, and so on)
// against two `tockgo boot` invocations driving the same simulated board at
// once — a real board only has one set of physical registers, so the
// simulation needs an equivalent exclusivity guarantee.
type StateLock struct {
	fl *flock.Flock
}

// AcquireStateLock takes an exclusive, non-blocking lock on
// filepath.Join(stateDir, ".tockgo.lock"). It returns an error immediately
// if another process already holds it rather than blocking, since a second
// instance trying to drive the same simulated hardware is a usage mistake
// to report, not a condition to wait out.
func AcquireStateLock(stateDir string) (*StateLock, error) {
	fl := flock.NewFlock(filepath.Join(stateDir, ".tockgo.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("chip: acquiring state lock in %s: %w", stateDir, err)
	}
	if !ok {
		return nil, fmt.Errorf("chip: simulated board state in %s is already in use by another tockgo instance", stateDir)
	}
	return &StateLock{fl: fl}, nil
}

// Release gives up the lock.
func (l *StateLock) Release() error {
	return l.fl.Unlock()
}
