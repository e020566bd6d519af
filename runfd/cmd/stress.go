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
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/fdcore/pkg/abi/linux"
	fdcontext "gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/refs"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/usermem"
	"gvisor.dev/fdcore/runfd/config"
)

// StressOptions configures RunStress.
type StressOptions struct {
	// Workers is the number of tasks sharing one descriptor table.
	Workers int

	// Iterations is the number of calls made by each worker in each phase.
	Iterations int

	// Files is the number of shared files.
	Files int

	// Chunk is the size of each read and write.
	Chunk int

	// Seed seeds the workers' random choices.
	Seed uint64
}

// StressReport summarizes a RunStress run.
type StressReport struct {
	// Calls is the number of syscalls made by workers.
	Calls int64

	// Transferred is the total number of bytes read and written.
	Transferred int64

	// Offsets is the final offset of each shared file, by fd.
	Offsets map[int32]int64

	// Churned is the number of descriptors opened and closed in the churn
	// phase.
	Churned int64
}

// stressTask is a task with its own memory and syscall helpers.
type stressTask struct {
	t   *kernel.Task
	mem *usermem.BytesIO
}

func (s *stressTask) call(name string, args ...uintptr) (int64, error) {
	sysno, ok := s.t.Kernel().SyscallTable().LookupName(name)
	if !ok {
		return 0, fmt.Errorf("syscall %q is not supported", name)
	}
	rval, err := s.t.Syscall(sysno, arch.Args(args...))
	return int64(rval), err
}

func (s *stressTask) open(path string, flags uint32) (int32, error) {
	n := copy(s.mem.Bytes[scriptPathAddr:scriptIOAddr], path)
	s.mem.Bytes[scriptPathAddr+n] = 0
	fd, err := s.call("open", scriptPathAddr, uintptr(flags), 0644)
	return int32(fd), err
}

// RunStress checks the descriptor layer under concurrency. In the first
// phase, workers sharing one table read and write shared files at random;
// each file's final offset must equal the bytes transferred through it. In
// the second phase, workers open, dup and close descriptors concurrently;
// afterwards only the shared files may remain open.
func RunStress(ctx fdcontext.Context, sb *Sandbox, opts StressOptions) (*StressReport, error) {
	if opts.Workers <= 0 || opts.Iterations < 0 || opts.Files <= 0 || opts.Chunk <= 0 {
		return nil, fmt.Errorf("invalid options %+v", opts)
	}
	if opts.Files > sb.Kernel.MaxOpenFiles() {
		return nil, fmt.Errorf("%d files do not fit in %d descriptors", opts.Files, sb.Kernel.MaxOpenFiles())
	}
	memSize := ScriptMemSize(opts.Chunk)
	parent, mem, err := sb.NewTask(ctx, memSize, nil)
	if err != nil {
		return nil, err
	}
	defer parent.Exit()
	p := &stressTask{t: parent, mem: mem}

	fds := make([]int32, opts.Files)
	for i := range fds {
		fd, err := p.open(fmt.Sprintf("stress-%d", i), linux.O_RDWR|linux.O_CREAT|linux.O_TRUNC)
		if err != nil {
			return nil, fmt.Errorf("creating file %d: %w", i, err)
		}
		fds[i] = fd
	}

	workers := make([]*stressTask, opts.Workers)
	for i := range workers {
		wmem := &usermem.BytesIO{Bytes: make([]byte, memSize)}
		t, err := parent.Fork(kernel.ForkOptions{ShareFDTable: true, Memory: wmem})
		if err != nil {
			return nil, err
		}
		defer t.Exit()
		workers[i] = &stressTask{t: t, mem: wmem}
	}

	report := &StressReport{Offsets: make(map[int32]int64)}
	transferred, calls, err := sharedOffsetPhase(workers, fds, opts)
	if err != nil {
		return nil, err
	}
	for i, fd := range fds {
		off, err := p.call("lseek", uintptr(fd), 0, linux.SEEK_CUR)
		if err != nil {
			return nil, err
		}
		if off != transferred[i] {
			return nil, fmt.Errorf("fd %d: offset %d after %d bytes transferred", fd, off, transferred[i])
		}
		report.Offsets[fd] = off
		report.Transferred += transferred[i]
	}
	report.Calls += calls

	churned, calls, err := churnPhase(workers, opts)
	if err != nil {
		return nil, err
	}
	report.Churned = churned
	report.Calls += calls

	got := parent.FDTable().GetFDs(parent)
	if len(got) != len(fds) {
		return nil, fmt.Errorf("descriptors %v open after churn, want %v", got, fds)
	}
	for i := range got {
		if got[i] != fds[i] {
			return nil, fmt.Errorf("descriptors %v open after churn, want %v", got, fds)
		}
	}
	return report, nil
}

func sharedOffsetPhase(workers []*stressTask, fds []int32, opts StressOptions) ([]int64, int64, error) {
	perWorker := make([][]int64, len(workers))
	var g errgroup.Group
	for w, st := range workers {
		perWorker[w] = make([]int64, len(fds))
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(w)))
		g.Go(func() error {
			for range opts.Iterations {
				i := rng.IntN(len(fds))
				fd := uintptr(fds[i])
				size := uintptr(1 + rng.IntN(opts.Chunk))
				var n int64
				var err error
				switch rng.IntN(3) {
				case 0:
					n, err = st.call("read", fd, scriptIOAddr, size)
				case 1:
					n, err = st.call("write", fd, scriptIOAddr, size)
				default:
					_, err = st.call("lseek", fd, 0, linux.SEEK_CUR)
				}
				if err != nil {
					return fmt.Errorf("worker %d: fd %d: %w", w, fd, err)
				}
				if n < 0 || n > int64(size) {
					return fmt.Errorf("worker %d: fd %d: transferred %d of %d bytes", w, fd, n, size)
				}
				perWorker[w][i] += n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	total := make([]int64, len(fds))
	for _, counts := range perWorker {
		for i, n := range counts {
			total[i] += n
		}
	}
	return total, int64(len(workers) * opts.Iterations), nil
}

func churnPhase(workers []*stressTask, opts StressOptions) (int64, int64, error) {
	churned := make([]int64, len(workers))
	calls := make([]int64, len(workers))
	var g errgroup.Group
	for w, st := range workers {
		g.Go(func() error {
			name := fmt.Sprintf("churn-%d", w)
			for range opts.Iterations {
				fd, err := st.open(name, linux.O_RDWR|linux.O_CREAT)
				calls[w]++
				if err == linuxerr.EMFILE {
					continue
				}
				if err != nil {
					return fmt.Errorf("worker %d: open: %w", w, err)
				}
				dup, err := st.call("dup", uintptr(fd))
				calls[w]++
				if err == nil {
					calls[w]++
					if _, err := st.call("close", uintptr(dup)); err != nil {
						return fmt.Errorf("worker %d: close(%d) of dup: %w", w, dup, err)
					}
				} else if err != linuxerr.EMFILE {
					return fmt.Errorf("worker %d: dup(%d): %w", w, fd, err)
				}
				calls[w]++
				if _, err := st.call("close", uintptr(fd)); err != nil {
					// Another worker closed our descriptor: two opens got
					// the same fd.
					return fmt.Errorf("worker %d: close(%d): %w", w, fd, err)
				}
				churned[w]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	var totalChurned, totalCalls int64
	for w := range workers {
		totalChurned += churned[w]
		totalCalls += calls[w]
	}
	return totalChurned, totalCalls, nil
}

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	opts StressOptions
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "check descriptor tables and file offsets under concurrent system calls"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run concurrent tasks against shared descriptors and check the results.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.opts.Workers, "workers", 8, "number of tasks sharing one descriptor table.")
	f.IntVar(&s.opts.Iterations, "iterations", 1000, "number of calls per worker per phase.")
	f.IntVar(&s.opts.Files, "files", 4, "number of shared files.")
	f.IntVar(&s.opts.Chunk, "chunk", 512, "maximum size of each read and write.")
	f.Uint64Var(&s.opts.Seed, "seed", 0, "random seed. Zero uses the current time.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if s.opts.Seed == 0 {
		s.opts.Seed = uint64(time.Now().UnixNano())
	}

	fctx := fdcontext.WithLogger(ctx, nil)
	if err := s.run(fctx, conf, os.Stdout); err != nil {
		return Errorf("stress failed (seed %d): %v", s.opts.Seed, err)
	}
	if err := writeMetrics(conf.MetricsOutput, os.Stdout); err != nil {
		return Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Stress) run(ctx fdcontext.Context, conf *config.Config, out io.Writer) error {
	sb, err := NewSandbox(ctx, conf)
	if err != nil {
		return err
	}
	defer sb.Close()

	start := time.Now()
	report, err := RunStress(ctx, sb, s.opts)
	if err != nil {
		return err
	}
	if refs.LeakCheckEnabled() {
		if n := refs.DoRepeatedLeakCheck(); n != 0 {
			return fmt.Errorf("%d objects leaked", n)
		}
	}
	fmt.Fprintf(out, "%d workers, %d calls in %v (seed %d)\n", s.opts.Workers, report.Calls, time.Since(start).Round(time.Millisecond), s.opts.Seed)
	fmt.Fprintf(out, "%d bytes transferred, final offsets %v\n", report.Transferred, report.Offsets)
	fmt.Fprintf(out, "%d descriptors churned\n", report.Churned)
	return nil
}
