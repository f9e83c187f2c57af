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

// Package config provides basic infrastructure to set configuration settings
// for pipectl. Each setting is a field of Config, exposed as a command line
// flag and as a key of the optional TOML configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
)

// Config holds configuration that is not part of a single command.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and TOML key.
//  3. Register a new flag in flags.go, with same name and add a description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the TOML file the rest of the settings were loaded from.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: text, json or glog.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// MaxFDs is the per-task descriptor limit. Zero selects the kernel
	// default.
	MaxFDs int `flag:"max-fds" toml:"max-fds"`

	// MemorySize is the size of each task's address space in bytes.
	MemorySize int `flag:"memory-size" toml:"memory-size"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref-leak-mode"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "glog", "json-raw":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', 'glog' or 'json-raw'", c.LogFormat)
	}
	if c.MaxFDs < 0 {
		return fmt.Errorf("max-fds must be non-negative, got %d", c.MaxFDs)
	}
	if c.MaxFDs > 1<<20 {
		return fmt.Errorf("max-fds %d exceeds %d", c.MaxFDs, 1<<20)
	}
	if c.MemorySize <= 0 {
		return fmt.Errorf("memory-size must be positive, got %d", c.MemorySize)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", strings.TrimPrefix(f, "--"))
	}
}
