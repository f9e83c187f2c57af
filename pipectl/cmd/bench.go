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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/cmd/util"
	"github.com/vsrinivas/fuchsia-sub100/pipectl/config"
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// Bench implements subcommands.Command for the "bench" command.
type Bench struct {
	total    string
	chunk    string
	pipeSize string
	rate     float64
	nonblock bool
	verify   bool
}

// Name implements subcommands.Command.Name.
func (*Bench) Name() string {
	return "bench"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Bench) Synopsis() string {
	return "measure pipe throughput between two tasks"
}

// Usage implements subcommands.Command.Usage.
func (*Bench) Usage() string {
	return `bench [flags] - streams data from a writer task to a reader task through a pipe and reports throughput
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Bench) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.total, "bytes", "64MiB", "total amount of data to transfer.")
	f.StringVar(&b.chunk, "chunk", "64KiB", "size of each write and read.")
	f.StringVar(&b.pipeSize, "pipe-size", "", "pipe capacity to request with F_SETPIPE_SZ. Empty keeps the default.")
	f.Float64Var(&b.rate, "rate", 0, "maximum writes per second. 0 means unlimited.")
	f.BoolVar(&b.nonblock, "nonblock", false, "make the read end non-blocking and retry EAGAIN with backoff.")
	f.BoolVar(&b.verify, "verify", true, "check that data arrives intact and in order.")
}

// Execute implements subcommands.Command.Execute.
func (b *Bench) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	opts, err := b.options(conf)
	if err != nil {
		return util.Errorf("bench: %v", err)
	}
	res, err := runBench(ctx, conf, opts)
	if err != nil {
		return util.Errorf("bench: %v", err)
	}
	res.report(os.Stdout)
	return subcommands.ExitSuccess
}

type benchOptions struct {
	total    uint64
	chunk    uint64
	pipeSize uint64
	rate     float64
	nonblock bool
	verify   bool
}

func (b *Bench) options(conf *config.Config) (benchOptions, error) {
	opts := benchOptions{
		rate:     b.rate,
		nonblock: b.nonblock,
		verify:   b.verify,
	}
	var err error
	if opts.total, err = humanize.ParseBytes(b.total); err != nil {
		return opts, fmt.Errorf("invalid --bytes: %w", err)
	}
	if opts.chunk, err = humanize.ParseBytes(b.chunk); err != nil {
		return opts, fmt.Errorf("invalid --chunk: %w", err)
	}
	if b.pipeSize != "" {
		if opts.pipeSize, err = humanize.ParseBytes(b.pipeSize); err != nil {
			return opts, fmt.Errorf("invalid --pipe-size: %w", err)
		}
	}
	if opts.chunk == 0 {
		return opts, fmt.Errorf("--chunk must be positive")
	}
	if opts.chunk > uint64(conf.MemorySize) {
		return opts, fmt.Errorf("--chunk %s does not fit in task memory of %s", humanize.IBytes(opts.chunk), humanize.IBytes(uint64(conf.MemorySize)))
	}
	if opts.rate < 0 {
		return opts, fmt.Errorf("--rate must not be negative")
	}
	return opts, nil
}

type benchResult struct {
	capacity uint64
	bytes    uint64
	writes   uint64
	reads    uint64
	retries  uint64
	elapsed  time.Duration
}

// runBench streams opts.total bytes from the main task to a thread through
// one pipe.
func runBench(ctx context.Context, conf *config.Config, opts benchOptions) (*benchResult, error) {
	p, err := newProcess(ctx, conf)
	if err != nil {
		return nil, err
	}
	defer p.destroy(ctx)

	writer := p.main
	reader, err := p.newThread(ctx)
	if err != nil {
		return nil, err
	}
	// A reader failure surfaces as EPIPE in the writer instead of killing it.
	if _, err := writer.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActIgnore}); err != nil {
		return nil, fmt.Errorf("ignoring SIGPIPE: %w", err)
	}

	rfd, wfd, err := pipe2(writer, 0)
	if err != nil {
		return nil, err
	}
	if opts.pipeSize != 0 {
		if _, err := call(writer, slinux.Fcntl, uintptr(wfd), linux.F_SETPIPE_SZ, uintptr(opts.pipeSize)); err != nil {
			return nil, fmt.Errorf("F_SETPIPE_SZ(%d): %w", opts.pipeSize, err)
		}
	}
	capacity, err := call(writer, slinux.Fcntl, uintptr(wfd), linux.F_GETPIPE_SZ)
	if err != nil {
		return nil, fmt.Errorf("F_GETPIPE_SZ: %w", err)
	}
	if opts.nonblock {
		if _, err := call(reader, slinux.Fcntl, uintptr(rfd), linux.F_SETFL, linux.O_NONBLOCK); err != nil {
			return nil, fmt.Errorf("F_SETFL: %w", err)
		}
	}
	log.Debugf("Bench pipe [%d, %d], capacity %d, options %+v", rfd, wfd, capacity, opts)

	res := &benchResult{capacity: uint64(capacity)}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer closeFD(writer, wfd)
		return benchWrite(gctx, writer, wfd, opts, res)
	})
	g.Go(func() error {
		defer closeFD(reader, rfd)
		return benchRead(gctx, reader, rfd, opts, res)
	})
	err = g.Wait()
	res.elapsed = time.Since(start)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// pattern returns the byte expected at offset off of the stream.
func pattern(off uint64) byte {
	return byte(off % 251)
}

func fillPattern(buf []byte, off uint64) {
	for i := range buf {
		buf[i] = pattern(off + uint64(i))
	}
}

func benchWrite(ctx context.Context, t *kernel.Task, fd int32, opts benchOptions, res *benchResult) error {
	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), 1)
	}
	buf := make([]byte, opts.chunk)
	for off := uint64(0); off < opts.total; {
		n := min(opts.chunk, opts.total-off)
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if opts.verify || off == 0 {
			fillPattern(buf[:n], off)
			if _, err := t.CopyOutBytes(bufAddr, buf[:n]); err != nil {
				return fmt.Errorf("staging write: %w", err)
			}
		}
		written, err := call(t, slinux.Write, uintptr(fd), uintptr(bufAddr), uintptr(n))
		off += uint64(written)
		res.writes++
		if err != nil {
			return fmt.Errorf("write at offset %d: %w", off, err)
		}
	}
	return nil
}

func benchRead(ctx context.Context, t *kernel.Task, fd int32, opts benchOptions, res *benchResult) error {
	buf := make([]byte, opts.chunk)
	var off uint64
	for {
		n, err := readRetry(ctx, t, fd, opts, res)
		if err != nil {
			return fmt.Errorf("read at offset %d: %w", off, err)
		}
		if n == 0 {
			break
		}
		res.reads++
		if opts.verify {
			if _, err := t.CopyInBytes(bufAddr, buf[:n]); err != nil {
				return fmt.Errorf("fetching read: %w", err)
			}
			for i, c := range buf[:n] {
				if want := pattern(off + uint64(i)); c != want {
					return fmt.Errorf("byte at offset %d is %#x, want %#x", off+uint64(i), c, want)
				}
			}
		}
		off += n
	}
	res.bytes = off
	if off != opts.total {
		return fmt.Errorf("short transfer: read %d bytes, want %d", off, opts.total)
	}
	return nil
}

// readRetry reads up to opts.chunk bytes. Without opts.nonblock the read
// blocks in the kernel; otherwise EAGAIN is retried with exponential backoff.
func readRetry(ctx context.Context, t *kernel.Task, fd int32, opts benchOptions, res *benchResult) (uint64, error) {
	if !opts.nonblock {
		n, err := call(t, slinux.Read, uintptr(fd), uintptr(bufAddr), uintptr(opts.chunk))
		return uint64(n), err
	}

	var n uintptr
	op := func() error {
		var err error
		n, err = call(t, slinux.Read, uintptr(fd), uintptr(bufAddr), uintptr(opts.chunk))
		if linuxerr.Equals(linuxerr.EAGAIN, err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Microsecond
	b.MaxInterval = time.Millisecond
	b.MaxElapsedTime = 0
	notify := func(error, time.Duration) {
		res.retries++
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	return uint64(n), err
}

func (r *benchResult) report(w io.Writer) {
	fmt.Fprintf(w, "pipe capacity  %s\n", humanize.IBytes(r.capacity))
	fmt.Fprintf(w, "transferred    %s in %v\n", humanize.IBytes(r.bytes), r.elapsed.Round(time.Microsecond))
	if secs := r.elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "throughput     %s/s\n", humanize.IBytes(uint64(float64(r.bytes)/secs)))
	}
	fmt.Fprintf(w, "writes         %s\n", humanize.Comma(int64(r.writes)))
	fmt.Fprintf(w, "reads          %s\n", humanize.Comma(int64(r.reads)))
	if r.retries > 0 {
		fmt.Fprintf(w, "EAGAIN retries %s\n", humanize.Comma(int64(r.retries)))
	}
}
