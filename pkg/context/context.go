// Copyright 2026 The gVisor Authors.
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

// Package context defines an internal context type.
//
// The given Context conforms to the standard Go context, but mandates
// additional methods that are specific to the open-file layer. Callers that
// hold a plain context.Context can wrap it with WithLogger.
package context

import (
	"context"

	"gvisor.dev/fdcore/pkg/log"
)

// Context represents a thread of execution (hereafter "goroutine" to reflect
// Go idiosyncrasy). It carries state associated with the goroutine across API
// boundaries.
//
// While Context exists for essentially the same reasons as Go's standard
// context.Context, the standard type represents the state of an operation
// rather than that of a goroutine. This is a critical distinction:
//
//   - Unlike context.Context, which "may be passed to functions running in
//     different goroutines", it is *not safe* to use the same Context in
//     multiple concurrent goroutines.
//
//   - It is *not safe* to retain a Context passed to a function beyond the
//     scope of that function call.
//
// In both cases, values extracted from the Context should be used instead.
type Context interface {
	context.Context
	log.Logger
}

// logContext implements basic logging.
type logContext struct {
	log.Logger
	context.Context
}

// globalLogger logs to the log package's target at the time of each call,
// so that a later log.SetTarget is honoured.
type globalLogger struct{}

func (globalLogger) Debugf(format string, v ...any) {
	log.Log().DebugfAtDepth(1, format, v...)
}

func (globalLogger) Infof(format string, v ...any) {
	log.Log().InfofAtDepth(1, format, v...)
}

func (globalLogger) Warningf(format string, v ...any) {
	log.Log().WarningfAtDepth(1, format, v...)
}

func (globalLogger) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}

// bgContext is the context returned by context.Background.
var bgContext Context = &logContext{
	Context: context.Background(),
	Logger:  globalLogger{},
}

// Background returns an empty context using the default logger.
//
// Users should be wary of using a Background context. Please tag any use with
// FIXME and a note to remove this use.
//
// Generally, one should use the Task as their context when available, or avoid
// having to use a context in places where a Task is unavailable.
//
// Using a Background context for tests is fine, as long as no values are
// needed from the context in the tested code paths.
func Background() Context {
	return bgContext
}

// WithLogger returns a Context that carries ctx's deadline, cancellation and
// values, and logs through logger. A nil logger logs to the global logger.
func WithLogger(ctx context.Context, logger log.Logger) Context {
	if logger == nil {
		logger = globalLogger{}
	}
	return &logContext{
		Context: ctx,
		Logger:  logger,
	}
}
