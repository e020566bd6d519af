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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	fdcontext "gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/runfd/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// ioSize is the size of the I/O buffer in the task's address space.
	ioSize int

	// strict stops the script at the first failed syscall.
	strict bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a script of system calls against a new task"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] [script] - run a script of system calls.

The script is read from the named file, or from stdin if none is given. Each
line is one call, for example:

	open notes.txt O_RDWR|O_CREAT 0644 -> fd
	write $fd 'hello\n'
	lseek $fd 0 SEEK_SET
	read $fd 5 = 5
	close $fd
	close $fd = EBADF
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.ioSize, "io-size", 64<<10, "size of the task's I/O buffer in bytes.")
	f.BoolVar(&r.strict, "strict", false, "stop at the first failed system call.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var script io.Reader = os.Stdin
	if f.NArg() == 0 && conf.Stdio {
		return Errorf("--stdio requires a script file, since stdin is the task's")
	}
	if f.NArg() == 1 {
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return Errorf("opening script: %v", err)
		}
		defer file.Close()
		script = file
	}
	if r.ioSize <= 0 {
		return Errorf("--io-size must be positive, got %d", r.ioSize)
	}

	if err := r.run(fdcontext.WithLogger(ctx, nil), conf, script, os.Stdout); err != nil {
		return Errorf("%v", err)
	}
	if err := writeMetrics(conf.MetricsOutput, os.Stdout); err != nil {
		return Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}

func (r *Run) run(ctx fdcontext.Context, conf *config.Config, script io.Reader, out io.Writer) error {
	sb, err := NewSandbox(ctx, conf)
	if err != nil {
		return err
	}
	defer sb.Close()

	var stdio *Stdio
	if conf.Stdio {
		stdio = &Stdio{Stdin: os.Stdin, Stdout: out, Stderr: os.Stderr}
	}
	t, mem, err := sb.NewTask(ctx, ScriptMemSize(r.ioSize), stdio)
	if err != nil {
		return err
	}
	defer t.Exit()

	in := &Interpreter{
		Task:    t,
		Memory:  mem,
		Sandbox: sb,
		Out:     out,
		Strict:  r.strict,
	}
	return in.Run(script)
}
