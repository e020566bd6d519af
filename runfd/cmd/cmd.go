// Copyright 2018 The gVisor Authors.
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

// Package cmd holds implementations of the runfd commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/fdcore/pkg/log"
	"gvisor.dev/fdcore/pkg/metric"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of runfd, so they are kept separate from the
// debug log.
var ErrorLogger io.Writer

// Errorf logs an error to ErrorLogger, to stderr and to the debug log. It
// returns subcommands.ExitFailure for convenience with subcommand.Execute()
// methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	// If runfd is being invoked by a script, our stderr might be lost, so
	// make sure the message ends up in the log file as well.
	log.Warningf("FATAL ERROR: "+format, args...)
	writeError(format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	// Return an error that is unlikely to be used by a script run under
	// runfd.
	os.Exit(128)
}

func writeError(format string, args ...any) {
	msg := fmt.Sprintf(format+"\n", args...)
	if ErrorLogger != nil {
		fmt.Fprint(ErrorLogger, msg)
	}
	fmt.Fprint(os.Stderr, msg)
}

// writeMetrics writes all metrics to path in the Prometheus text format.
// "-" means out.
func writeMetrics(path string, out io.Writer) error {
	if path == "" {
		return nil
	}
	if path == "-" {
		return metric.WriteText(out)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metric.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
