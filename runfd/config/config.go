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

// Package config provides basic infrastructure to set configuration settings
// for runfd. Each setting that can be changed from the command line must
// have a corresponding flag, and may also be set from a TOML file passed
// with --config.
package config

import (
	"fmt"
	"time"

	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/log"
	"gvisor.dev/fdcore/pkg/refs"
)

// Storage kinds.
const (
	StorageMemFS = "memfs"
	StorageHost  = "host"
)

// maxOpenFilesLimit caps MaxOpenFiles. FDTable slots are allocated up front.
const maxOpenFilesLimit = 1 << 20

// Config holds configuration that is not part of a script or command
// arguments.
type Config struct {
	// ConfigFile is the TOML file that flag values were read from, if any.
	ConfigFile string `flag:"config"`

	// Storage selects the storage behind open(2): memfs or host.
	Storage string `flag:"storage"`

	// HostRoot is the directory served when Storage is host.
	HostRoot string `flag:"host-root"`

	// HostLockTimeout is how long to wait for another process to release
	// HostRoot.
	HostLockTimeout time.Duration `flag:"host-lock-timeout"`

	// MemFSMaxFileSize limits the size of a memfs object. Zero means no limit.
	MemFSMaxFileSize int64 `flag:"memfs-max-file-size"`

	// MaxOpenFiles is the size of each descriptor table.
	MaxOpenFiles int `flag:"max-open-files"`

	// Stdio installs the process's stdin, stdout and stderr as fds 0, 1
	// and 2 of the first task.
	Stdio bool `flag:"stdio"`

	// LogFilename is the file to write logs to. The following variables
	// are available: %TIMESTAMP%, %PID%, %COMMAND%.
	LogFilename string `flag:"log"`

	// LogFormat is the log format, "text" or "json".
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// ReferenceLeak sets the reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`

	// MetricsOutput is where metrics are written in the Prometheus text
	// format when a command finishes. "-" means stdout; empty disables.
	MetricsOutput string `flag:"metrics-output"`
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemFS:
	case StorageHost:
		if c.HostRoot == "" {
			return fmt.Errorf("--host-root is required with --storage=%s", StorageHost)
		}
	default:
		return fmt.Errorf("invalid storage %q, must be %q or %q", c.Storage, StorageMemFS, StorageHost)
	}
	if c.MaxOpenFiles <= 0 || c.MaxOpenFiles > maxOpenFilesLimit {
		return fmt.Errorf("--max-open-files must be in [1, %d], got %d", maxOpenFilesLimit, c.MaxOpenFiles)
	}
	if c.MemFSMaxFileSize < 0 {
		return fmt.Errorf("--memfs-max-file-size must not be negative, got %d", c.MemFSMaxFileSize)
	}
	if c.HostLockTimeout < 0 {
		return fmt.Errorf("--host-lock-timeout must not be negative, got %v", c.HostLockTimeout)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("\t\tConfigFile: %q", c.ConfigFile)
	log.Infof("\t\tStorage: %s", c.Storage)
	if c.Storage == StorageHost {
		log.Infof("\t\tHostRoot: %q, lock timeout %v", c.HostRoot, c.HostLockTimeout)
	}
	log.Infof("\t\tMaxOpenFiles: %d (default %d)", c.MaxOpenFiles, linux.OPEN_MAX)
	log.Infof("\t\tStdio: %t", c.Stdio)
	log.Infof("\t\tDebug: %t", c.Debug)
	log.Infof("\t\tReferenceLeak: %v", c.ReferenceLeak)
}
