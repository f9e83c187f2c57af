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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("flagSet.Parse(%v): %v", args, err)
	}
	return flagSet
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipectl.toml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	want := &Config{
		LogFormat:     "text",
		MemorySize:    DefaultMemorySize,
		ReferenceLeak: refs.NoLeakChecking,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
	if got := c.ToFlags(); len(got) != 0 {
		t.Errorf("ToFlags() on default config = %v, want none", got)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--debug", "--log-format=json", "--max-fds=64", "--ref-leak-mode=panic"))
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	if !c.Debug || c.LogFormat != "json" || c.MaxFDs != 64 || c.ReferenceLeak != refs.LeaksPanic {
		t.Errorf("NewFromFlags() = %+v", c)
	}
	want := []string{"--log-format=json", "--debug=true", "--max-fds=64", "--ref-leak-mode=panic"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFile(t *testing.T) {
	path := writeConfig(t, `
debug = true
log-format = "glog"
max-fds = 32
memory-size = 65536
ref-leak-mode = "warning"
`)
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--max-fds=16"))
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	want := &Config{
		ConfigFile:    path,
		LogFormat:     "glog",
		Debug:         true,
		MaxFDs:        16,
		MemorySize:    65536,
		ReferenceLeak: refs.LeaksLogWarning,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{name: "syntax", data: `debug = `},
		{name: "unknown key", data: `platform = "kvm"`},
		{name: "bad leak mode", data: `ref-leak-mode = "sometimes"`},
		{name: "wrong type", data: `max-fds = "many"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.data)
			if _, err := NewFromFlags(newFlagSet(t, "--config="+path)); err == nil {
				t.Errorf("NewFromFlags succeeded with config %q", tc.data)
			}
		})
	}
	if _, err := NewFromFlags(newFlagSet(t, "--config="+filepath.Join(t.TempDir(), "missing.toml"))); err == nil {
		t.Errorf("NewFromFlags succeeded with a missing config file")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{name: "log format", args: []string{"--log-format=xml"}},
		{name: "negative max fds", args: []string{"--max-fds=-1"}},
		{name: "huge max fds", args: []string{"--max-fds=2000000"}},
		{name: "memory", args: []string{"--memory-size=0"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFromFlags(newFlagSet(t, tc.args...)); err == nil {
				t.Errorf("NewFromFlags(%v) succeeded", tc.args)
			}
		})
	}
}

func TestNewFromTOML(t *testing.T) {
	c, err := NewFromTOML(`max-fds = 8`)
	if err != nil {
		t.Fatalf("NewFromTOML: %v", err)
	}
	if c.MaxFDs != 8 || c.LogFormat != "text" || c.MemorySize != DefaultMemorySize {
		t.Errorf("NewFromTOML() = %+v", c)
	}
}
