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

// Package klog is the package-level logging facade every subsystem in this
// module calls instead of touching a logger directly, the same shape as
// the teacher's own log package: a handful of free functions
// (Infof/Debugf/Warningf/...) backed by one process-wide logger.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug turns on Debugf output, the Go analogue of the teacher's
// config.CONFIG.trace_syscalls / debug-log-fd knobs.
func SetDebug(on bool) {
	if on {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects where log lines are written (stderr by default).
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	std.SetOutput(w)
}

func Debugf(format string, args ...any)   { std.Debugf(format, args...) }
func Infof(format string, args ...any)    { std.Infof(format, args...) }
func Warningf(format string, args ...any) { std.Warnf(format, args...) }
func Errorf(format string, args ...any)   { std.Errorf(format, args...) }

// WithFields returns an entry pre-populated with fields, for call sites
// that want structured context (process id, driver number) attached to
// every line of a burst of related log calls.
func WithFields(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}
