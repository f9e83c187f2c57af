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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/cmd/util"
	"github.com/vsrinivas/fuchsia-sub100/pipectl/config"
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/metric"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct {
	workload bool
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "print pipe metrics in Prometheus text format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [-workload=false] - runs a short pipe workload and prints the resulting metric data in Prometheus metric format
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.workload, "workload", true, "run a short workload so that counters are populated.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if m.workload {
		if err := runMetricsWorkload(ctx, conf); err != nil {
			return util.Errorf("metrics: %v", err)
		}
	}
	if err := writeMetrics(os.Stdout); err != nil {
		return util.Errorf("metrics: %v", err)
	}
	return subcommands.ExitSuccess
}

// runMetricsWorkload moves a page through a pipe, then writes to it after
// the read end is closed.
func runMetricsWorkload(ctx context.Context, conf *config.Config) error {
	p, err := newProcess(ctx, conf)
	if err != nil {
		return err
	}
	defer p.destroy(ctx)

	t := p.main
	if _, err := t.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActIgnore}); err != nil {
		return fmt.Errorf("ignoring SIGPIPE: %w", err)
	}
	rfd, wfd, err := pipe2(t, linux.O_CLOEXEC)
	if err != nil {
		return err
	}
	defer closeFD(t, wfd)

	const size = linux.PIPE_BUF
	if _, err := call(t, slinux.Write, uintptr(wfd), uintptr(bufAddr), size); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if _, err := call(t, slinux.Read, uintptr(rfd), uintptr(bufAddr), size); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	closeFD(t, rfd)
	if _, err := call(t, slinux.Write, uintptr(wfd), uintptr(bufAddr), size); !linuxerr.Equals(linuxerr.EPIPE, err) {
		return fmt.Errorf("write without readers returned %v, want EPIPE", err)
	}
	return nil
}

func writeMetrics(w io.Writer) error {
	if err := metric.WriteText(w); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
