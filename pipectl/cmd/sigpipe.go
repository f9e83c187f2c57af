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

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/cmd/util"
	"github.com/vsrinivas/fuchsia-sub100/pipectl/config"
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// handlerAddr stands in for the address of a user signal handler.
const handlerAddr = 0x1000

// Sigpipe implements subcommands.Command for the "sigpipe" command.
type Sigpipe struct {
	disposition string
	size        string
}

// Name implements subcommands.Command.Name.
func (*Sigpipe) Name() string {
	return "sigpipe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sigpipe) Synopsis() string {
	return "write to a pipe without readers and report what SIGPIPE does"
}

// Usage implements subcommands.Command.Usage.
func (*Sigpipe) Usage() string {
	return `sigpipe [-disposition=default|ignore|handle] [-bytes=<size>] - closes the read end of a pipe, writes to the write end and reports the result
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sigpipe) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.disposition, "disposition", "default", "SIGPIPE disposition of the writer: default, ignore or handle.")
	f.StringVar(&s.size, "bytes", "1", "size of the write.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sigpipe) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	size, err := humanize.ParseBytes(s.size)
	if err != nil {
		return util.Errorf("sigpipe: invalid --bytes: %v", err)
	}
	res, err := runSigpipe(ctx, conf, s.disposition, size)
	if err != nil {
		return util.Errorf("sigpipe: %v", err)
	}
	res.report(os.Stdout)
	return subcommands.ExitSuccess
}

type sigpipeResult struct {
	written uint64
	err     error
	killed  bool
	pending bool
}

func sigpipeAction(disposition string) (arch.SignalAct, error) {
	switch disposition {
	case "default":
		return arch.SignalAct{Handler: arch.SignalActDefault}, nil
	case "ignore":
		return arch.SignalAct{Handler: arch.SignalActIgnore}, nil
	case "handle":
		return arch.SignalAct{Handler: handlerAddr}, nil
	default:
		return arch.SignalAct{}, fmt.Errorf("invalid disposition %q, must be 'default', 'ignore' or 'handle'", disposition)
	}
}

// runSigpipe writes size bytes to a pipe whose read end is closed.
func runSigpipe(ctx context.Context, conf *config.Config, disposition string, size uint64) (*sigpipeResult, error) {
	act, err := sigpipeAction(disposition)
	if err != nil {
		return nil, err
	}
	if size > uint64(conf.MemorySize) {
		return nil, fmt.Errorf("write of %s does not fit in task memory", humanize.IBytes(size))
	}

	p, err := newProcess(ctx, conf)
	if err != nil {
		return nil, err
	}
	defer p.destroy(ctx)

	t := p.main
	if _, err := t.SetSignalAction(linux.SIGPIPE, act); err != nil {
		return nil, fmt.Errorf("setting SIGPIPE action: %w", err)
	}
	rfd, wfd, err := pipe2(t, 0)
	if err != nil {
		return nil, err
	}
	defer closeFD(t, wfd)
	closeFD(t, rfd)

	n, werr := call(t, slinux.Write, uintptr(wfd), uintptr(bufAddr), uintptr(size))
	_, killed := t.Killed()
	return &sigpipeResult{
		written: uint64(n),
		err:     werr,
		killed:  killed,
		pending: t.PendingSignals()&linux.SignalSetOf(linux.SIGPIPE) != 0,
	}, nil
}

func (r *sigpipeResult) report(w io.Writer) {
	if r.err != nil {
		fmt.Fprintf(w, "write returned %d, error %v\n", r.written, r.err)
	} else {
		fmt.Fprintf(w, "write returned %d\n", r.written)
	}
	switch {
	case r.killed:
		fmt.Fprintln(w, "writer was killed by SIGPIPE")
	case r.pending:
		fmt.Fprintln(w, "SIGPIPE is pending for the writer's handler")
	default:
		fmt.Fprintln(w, "no SIGPIPE was delivered")
	}
}
