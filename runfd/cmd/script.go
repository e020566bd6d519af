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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
	"golang.org/x/sys/unix"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/errors"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/usermem"
)

// Script address space layout: a path buffer followed by the I/O buffer.
const (
	scriptPathAddr = 0
	scriptIOAddr   = linux.PATH_MAX
)

// ScriptMemSize returns the address space size needed for I/O of up to
// ioSize bytes.
func ScriptMemSize(ioSize int) int {
	return scriptIOAddr + ioSize
}

// Interpreter runs scripts of system calls against a task. Each line is one
// command, tokenized like a shell command line:
//
//	open PATH FLAGS [MODE]
//	read FD COUNT
//	write FD DATA
//	pread FD COUNT OFFSET
//	pwrite FD DATA OFFSET
//	lseek FD OFFSET WHENCE
//	close FD
//	dup FD
//	dup2 OLDFD NEWFD
//	fds
//	ls
//	echo ARGS...
//
// A syscall line may end with "-> NAME" to bind its result to $NAME for use
// as a later integer argument, and with "= RESULT" to require a result,
// either a number or an errno name such as EBADF. DATA is unescaped like a
// Go string literal, so '\x00' writes a NUL byte. Blank lines and lines
// starting with '#' are ignored.
type Interpreter struct {
	// Task runs the syscalls.
	Task *kernel.Task

	// Memory is Task's address space.
	Memory *usermem.BytesIO

	// Sandbox is used by ls.
	Sandbox *Sandbox

	// Out receives a trace of every command.
	Out io.Writer

	// Strict stops the script at the first failed syscall.
	Strict bool

	vars map[string]int64
}

// ScriptError is returned for a line that could not be executed or whose
// result did not match.
type ScriptError struct {
	Line int
	Text string
	Err  error
}

// Error implements error.Error.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Run executes every line of script.
func (in *Interpreter) Run(script io.Reader) error {
	if in.vars == nil {
		in.vars = make(map[string]int64)
	}
	scanner := bufio.NewScanner(script)
	for lineno := 1; scanner.Scan(); lineno++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := in.runLine(text); err != nil {
			return &ScriptError{Line: lineno, Text: text, Err: err}
		}
	}
	return scanner.Err()
}

// line is a parsed script line.
type line struct {
	cmd  string
	args []string

	// bind is the variable receiving the result, if any.
	bind string

	// expect is the required result, if any.
	expect string
}

// shellOperators are the characters shellwords stops a command line at.
const shellOperators = ";&|<>"

// escapeOperators backslash-escapes unquoted shell operators in text so that
// "O_RDWR|O_CREAT" and "-> NAME" are read as ordinary words.
func escapeOperators(text string) string {
	var (
		b                      strings.Builder
		single, double, escape bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escape:
			escape = false
		case c == '\\' && !single:
			escape = true
		case c == '\'' && !double:
			single = !single
		case c == '"' && !single:
			double = !double
		case !single && !double && strings.IndexByte(shellOperators, c) >= 0:
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func parseLine(text string) (line, error) {
	words, err := shellwords.Parse(escapeOperators(text))
	if err != nil {
		return line{}, err
	}
	if len(words) == 0 {
		return line{}, fmt.Errorf("empty command")
	}
	l := line{cmd: strings.ToLower(words[0])}
	words = words[1:]
	for len(words) >= 2 {
		switch words[len(words)-2] {
		case "=":
			if l.expect != "" {
				return line{}, fmt.Errorf("more than one expected result")
			}
			l.expect = words[len(words)-1]
		case "->":
			if l.bind != "" {
				return line{}, fmt.Errorf("more than one binding")
			}
			l.bind = words[len(words)-1]
		default:
			l.args = words
			return l, nil
		}
		words = words[:len(words)-2]
	}
	l.args = words
	return l, nil
}

func (in *Interpreter) runLine(text string) error {
	l, err := parseLine(text)
	if err != nil {
		return err
	}
	switch l.cmd {
	case "echo":
		fmt.Fprintln(in.Out, strings.Join(l.args, " "))
		return nil
	case "fds":
		t := in.Task.FDTable()
		fmt.Fprintf(in.Out, "fd table %d: %d of %d in use\n", t.ID(), t.Size(), t.Limit())
		fmt.Fprint(in.Out, t)
		return nil
	case "ls":
		return in.list()
	}

	call, err := in.prepare(l)
	if err != nil {
		return err
	}
	sysno, ok := in.Task.Kernel().SyscallTable().LookupName(call.name)
	if !ok {
		return fmt.Errorf("syscall %q is not supported", call.name)
	}
	rval, serr := in.Task.Syscall(sysno, call.args)

	result := strconv.FormatInt(int64(rval), 10)
	if serr != nil {
		result = errnoString(serr)
	} else if call.readBuf {
		result += " " + strconv.Quote(string(in.Memory.Bytes[scriptIOAddr:scriptIOAddr+int(rval)]))
	}
	fmt.Fprintf(in.Out, "%s(%s) = %s\n", call.name, strings.Join(call.trace, ", "), result)

	if l.expect != "" {
		if err := checkResult(l.expect, rval, serr); err != nil {
			return err
		}
	} else if serr != nil && in.Strict {
		return serr
	}
	if l.bind != "" && serr == nil {
		in.vars[l.bind] = int64(rval)
	}
	return nil
}

// call is a syscall ready to run.
type call struct {
	name  string
	args  arch.SyscallArguments
	trace []string

	// readBuf is set when the result is a byte count read into the I/O
	// buffer.
	readBuf bool
}

func (in *Interpreter) prepare(l line) (call, error) {
	c := call{name: l.cmd, trace: l.args}
	want := map[string]int{
		"open": 2, "read": 2, "write": 2, "pread": 3, "pwrite": 3,
		"lseek": 3, "close": 1, "dup": 1, "dup2": 2,
	}
	n, ok := want[l.cmd]
	if !ok {
		return c, fmt.Errorf("unknown command %q", l.cmd)
	}
	if len(l.args) != n && !(l.cmd == "open" && len(l.args) == 3) {
		return c, fmt.Errorf("%s takes %d arguments, got %d", l.cmd, n, len(l.args))
	}

	var err error
	switch l.cmd {
	case "open":
		c.args, c.trace, err = in.prepareOpen(l.args)
	case "read", "pread":
		c.readBuf = true
		var fd, count, off int64
		if fd, err = in.integer(l.args[0]); err != nil {
			break
		}
		if count, err = in.integer(l.args[1]); err != nil {
			break
		}
		if count > int64(len(in.Memory.Bytes)-scriptIOAddr) {
			return c, fmt.Errorf("count %d exceeds the I/O buffer of %d bytes", count, len(in.Memory.Bytes)-scriptIOAddr)
		}
		c.args = arch.Args(uintptr(fd), scriptIOAddr, uintptr(count))
		if l.cmd == "pread" {
			c.name = "pread64"
			if off, err = in.integer(l.args[2]); err != nil {
				break
			}
			c.args = arch.Args(uintptr(fd), scriptIOAddr, uintptr(count), uintptr(off))
		}
	case "write", "pwrite":
		var fd, off int64
		var data string
		if fd, err = in.integer(l.args[0]); err != nil {
			break
		}
		if data, err = unescape(l.args[1]); err != nil {
			break
		}
		if len(data) > len(in.Memory.Bytes)-scriptIOAddr {
			return c, fmt.Errorf("data of %d bytes exceeds the I/O buffer of %d bytes", len(data), len(in.Memory.Bytes)-scriptIOAddr)
		}
		copy(in.Memory.Bytes[scriptIOAddr:], data)
		c.args = arch.Args(uintptr(fd), scriptIOAddr, uintptr(len(data)))
		c.trace = []string{l.args[0], strconv.Quote(data), strconv.Itoa(len(data))}
		if l.cmd == "pwrite" {
			c.name = "pwrite64"
			if off, err = in.integer(l.args[2]); err != nil {
				break
			}
			c.args = arch.Args(uintptr(fd), scriptIOAddr, uintptr(len(data)), uintptr(off))
			c.trace = append(c.trace, l.args[2])
		}
	case "lseek":
		var fd, off, whence int64
		if fd, err = in.integer(l.args[0]); err != nil {
			break
		}
		if off, err = in.integer(l.args[1]); err != nil {
			break
		}
		if whence, err = parseWhence(l.args[2]); err != nil {
			break
		}
		c.args = arch.Args(uintptr(fd), uintptr(off), uintptr(whence))
	default:
		// close, dup, dup2: integer arguments only.
		vals := make([]uintptr, len(l.args))
		for i, a := range l.args {
			var v int64
			if v, err = in.integer(a); err != nil {
				break
			}
			vals[i] = uintptr(v)
		}
		c.args = arch.Args(vals...)
	}
	return c, err
}

func (in *Interpreter) prepareOpen(args []string) (arch.SyscallArguments, []string, error) {
	path := args[0]
	if len(path)+1 > scriptIOAddr-scriptPathAddr {
		// Let the kernel see an unterminated path.
		path = path[:scriptIOAddr-scriptPathAddr]
	}
	n := copy(in.Memory.Bytes[scriptPathAddr:scriptIOAddr], path)
	if scriptPathAddr+n < scriptIOAddr {
		in.Memory.Bytes[scriptPathAddr+n] = 0
	}
	flags, err := linux.ParseOpenFlags(args[1])
	if err != nil {
		return arch.SyscallArguments{}, nil, err
	}
	var mode uint64
	if len(args) == 3 {
		if mode, err = strconv.ParseUint(args[2], 8, 32); err != nil {
			return arch.SyscallArguments{}, nil, fmt.Errorf("invalid mode %q: %w", args[2], err)
		}
	}
	trace := []string{strconv.Quote(args[0]), linux.OpenFlagsString(flags), fmt.Sprintf("%#o", mode)}
	return arch.Args(scriptPathAddr, uintptr(flags), uintptr(mode)), trace, nil
}

// integer parses a decimal integer or a $variable.
func (in *Interpreter) integer(s string) (int64, error) {
	if name, ok := strings.CutPrefix(s, "$"); ok {
		v, ok := in.vars[name]
		if !ok {
			return 0, fmt.Errorf("undefined variable %q", s)
		}
		return v, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseWhence(s string) (int64, error) {
	switch s {
	case "SEEK_SET":
		return linux.SEEK_SET, nil
	case "SEEK_CUR":
		return linux.SEEK_CUR, nil
	case "SEEK_END":
		return linux.SEEK_END, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// unescape interprets Go string escapes in s.
func unescape(s string) (string, error) {
	var b strings.Builder
	for len(s) > 0 {
		c, multibyte, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			return "", fmt.Errorf("invalid escape in %q: %w", s, err)
		}
		if c == utf8.RuneError && len(s)-len(tail) == 1 {
			// A raw byte that is not valid UTF-8.
			b.WriteByte(s[0])
		} else if !multibyte && c < 256 {
			b.WriteByte(byte(c))
		} else {
			b.WriteRune(c)
		}
		s = tail
	}
	return b.String(), nil
}

// errnoString formats err the way strace does.
func errnoString(err error) string {
	if e, ok := err.(*errors.Error); ok {
		return fmt.Sprintf("-1 %s (%s)", unix.ErrnoName(linuxerr.ToUnix(e)), e)
	}
	return fmt.Sprintf("-1 (%v)", err)
}

func checkResult(expect string, rval uintptr, err error) error {
	if err != nil {
		e, ok := err.(*errors.Error)
		if ok && unix.ErrnoName(linuxerr.ToUnix(e)) == expect {
			return nil
		}
		return fmt.Errorf("got error %v, want %s", err, expect)
	}
	want, perr := strconv.ParseInt(expect, 10, 64)
	if perr != nil || want != int64(rval) {
		return fmt.Errorf("got %d, want %s", int64(rval), expect)
	}
	return nil
}

func (in *Interpreter) list() error {
	if in.Sandbox == nil || in.Sandbox.MemFS == nil {
		return fmt.Errorf("ls is only supported with memfs storage")
	}
	for _, info := range in.Sandbox.MemFS.List() {
		fmt.Fprintf(in.Out, "%s %8d %s (%d open)\n", info.Mode, info.Size, info.Name, info.Handles)
	}
	return nil
}
