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
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/cmd/util"
	"github.com/vsrinivas/fuchsia-sub100/pipectl/config"
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// PipeSize implements subcommands.Command for the "pipesz" command.
type PipeSize struct {
	fill string
}

// Name implements subcommands.Command.Name.
func (*PipeSize) Name() string {
	return "pipesz"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PipeSize) Synopsis() string {
	return "resize a pipe with F_SETPIPE_SZ and report the result"
}

// Usage implements subcommands.Command.Usage.
func (*PipeSize) Usage() string {
	return `pipesz [-fill=<size>] <size>... - fills a pipe, then requests each capacity in turn
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PipeSize) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.fill, "fill", "0", "amount of data to queue in the pipe before resizing.")
}

// Execute implements subcommands.Command.Execute.
func (p *PipeSize) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	fill, err := humanize.ParseBytes(p.fill)
	if err != nil {
		return util.Errorf("pipesz: invalid --fill: %v", err)
	}
	var sizes []uint64
	for _, arg := range f.Args() {
		size, err := humanize.ParseBytes(arg)
		if err != nil {
			return util.Errorf("pipesz: invalid size %q: %v", arg, err)
		}
		sizes = append(sizes, size)
	}
	res, err := runPipeSize(ctx, conf, fill, sizes)
	if err != nil {
		return util.Errorf("pipesz: %v", err)
	}
	res.report(os.Stdout)
	return subcommands.ExitSuccess
}

type resizeResult struct {
	requested uint64
	result    uint64
	err       error
	capacity  uint64
}

type pipeSizeResult struct {
	queued  uint64
	resizes []resizeResult
}

// runPipeSize queues up to fill bytes in a non-blocking pipe and then calls
// F_SETPIPE_SZ with each of sizes.
func runPipeSize(ctx context.Context, conf *config.Config, fill uint64, sizes []uint64) (*pipeSizeResult, error) {
	p, err := newProcess(ctx, conf)
	if err != nil {
		return nil, err
	}
	defer p.destroy(ctx)

	t := p.main
	rfd, wfd, err := pipe2(t, linux.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	defer closeFD(t, rfd)
	defer closeFD(t, wfd)

	if err := fillPipe(t, wfd, fill, uint64(conf.MemorySize)); err != nil {
		return nil, err
	}
	res := &pipeSizeResult{}
	if res.queued, err = queued(t, rfd); err != nil {
		return nil, err
	}
	for _, size := range sizes {
		r := resizeResult{requested: size}
		n, err := call(t, slinux.Fcntl, uintptr(wfd), linux.F_SETPIPE_SZ, uintptr(size))
		r.result, r.err = uint64(n), err
		capacity, err := call(t, slinux.Fcntl, uintptr(rfd), linux.F_GETPIPE_SZ)
		if err != nil {
			return nil, fmt.Errorf("F_GETPIPE_SZ: %w", err)
		}
		r.capacity = uint64(capacity)
		res.resizes = append(res.resizes, r)
	}
	return res, nil
}

// fillPipe writes fill bytes to fd until the pipe is full, staging at most
// memSize bytes at a time.
func fillPipe(t *kernel.Task, fd int32, fill, memSize uint64) error {
	for fill > 0 {
		n := min(fill, memSize)
		written, err := call(t, slinux.Write, uintptr(fd), uintptr(bufAddr), uintptr(n))
		if linuxerr.Equals(linuxerr.EAGAIN, err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("filling pipe: %w", err)
		}
		fill -= uint64(written)
	}
	return nil
}

// queued returns the number of bytes readable from fd, as reported by
// FIONREAD.
func queued(t *kernel.Task, fd int32) (uint64, error) {
	if _, err := call(t, slinux.Ioctl, uintptr(fd), linux.FIONREAD, uintptr(bufAddr)); err != nil {
		return 0, fmt.Errorf("FIONREAD: %w", err)
	}
	var buf [4]byte
	if _, err := t.CopyInBytes(bufAddr, buf[:]); err != nil {
		return 0, fmt.Errorf("reading FIONREAD result: %w", err)
	}
	return uint64(hostarch.ByteOrder.Uint32(buf[:])), nil
}

func (r *pipeSizeResult) report(w io.Writer) {
	fmt.Fprintf(w, "queued %s\n", humanize.IBytes(r.queued))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "REQUESTED\tRESULT\tCAPACITY\n")
	for _, rs := range r.resizes {
		result := humanize.IBytes(rs.result)
		if rs.err != nil {
			result = rs.err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.IBytes(rs.requested), result, humanize.IBytes(rs.capacity))
	}
	tw.Flush()
}
