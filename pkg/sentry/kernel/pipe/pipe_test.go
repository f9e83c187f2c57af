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

package pipe

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

func TestPipeReadWriteFIFO(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(DefaultPipeSize)
	p.open(true, true)

	var want []byte
	for _, msg := range []string{"here's ", "some ", "bytes"} {
		n, err := p.Write(ctx, usermem.BytesIOSequence([]byte(msg)))
		if n != int64(len(msg)) || err != nil {
			t.Fatalf("Write(%q): got (%d, %v), wanted (%d, nil)", msg, n, err, len(msg))
		}
		want = append(want, msg...)
	}

	buf := make([]byte, len(want)+10)
	n, err := p.Read(ctx, usermem.BytesIOSequence(buf))
	if n != int64(len(want)) || err != nil || !bytes.Equal(buf[:n], want) {
		t.Fatalf("Read: got (%d, %v) %q, wanted (%d, nil) %q", n, err, buf[:n], len(want), want)
	}
}

func TestPipeReadBlock(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(DefaultPipeSize)
	p.open(true, true)

	n, err := p.Read(ctx, usermem.BytesIOSequence(make([]byte, 1)))
	if n != 0 || err != linuxerr.ErrWouldBlock {
		t.Fatalf("Read: got (%d, %v), wanted (0, %v)", n, err, linuxerr.ErrWouldBlock)
	}

	// Zero-length reads never block.
	if n, err := p.Read(ctx, usermem.BytesIOSequence(nil)); n != 0 || err != nil {
		t.Errorf("zero-length Read: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestPipeWriteBackpressure(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(MinimumPipeSize)
	p.open(true, true)

	msg := make([]byte, MinimumPipeSize+1)
	n, err := p.Write(ctx, usermem.BytesIOSequence(msg))
	if n != MinimumPipeSize || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, MinimumPipeSize)
	}
	n, err = p.Write(ctx, usermem.BytesIOSequence(msg[:1]))
	if n != 0 || err != linuxerr.ErrWouldBlock {
		t.Fatalf("Write to full pipe: got (%d, %v), wanted (0, %v)", n, err, linuxerr.ErrWouldBlock)
	}
	if got := p.Queued(); got != MinimumPipeSize {
		t.Errorf("Queued: got %d, wanted %d", got, MinimumPipeSize)
	}
}

func TestPipeWriteBeforeFirstReader(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(DefaultPipeSize)
	p.open(false, true)

	msg := []byte("hello")
	if n, err := p.Write(ctx, usermem.BytesIOSequence(msg)); n != 0 || err != linuxerr.ErrWouldBlock {
		t.Fatalf("Write before any reader: got (%d, %v), wanted (0, %v)", n, err, linuxerr.ErrWouldBlock)
	}

	p.open(true, false)
	if n, err := p.Write(ctx, usermem.BytesIOSequence(msg)); n != int64(len(msg)) || err != nil {
		t.Fatalf("Write after reader opened: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
	}

	p.close(true, false)
	if n, err := p.Write(ctx, usermem.BytesIOSequence(msg)); n != 0 || err != linuxerr.EPIPE {
		t.Fatalf("Write after reader closed: got (%d, %v), wanted (0, %v)", n, err, linuxerr.EPIPE)
	}
}

func TestPipeEOF(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(DefaultPipeSize)
	p.open(true, false)
	p.open(false, true)

	if _, err := p.Write(ctx, usermem.BytesIOSequence([]byte("ab"))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.close(false, true)

	// Queued data is still readable after the last writer leaves.
	const all = waiter.EventIn | waiter.EventOut | waiter.EventErr | waiter.EventHUp
	if got, want := p.Readiness(all, true, false), waiter.EventIn|waiter.EventHUp; got != want {
		t.Errorf("Readiness with data: got %#x, wanted %#x", got, want)
	}
	buf := make([]byte, 4)
	if n, err := p.Read(ctx, usermem.BytesIOSequence(buf)); n != 2 || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (2, nil)", n, err)
	}
	if got, want := p.Readiness(all, true, false), waiter.EventHUp; got != want {
		t.Errorf("Readiness at EOF: got %#x, wanted %#x", got, want)
	}
	if n, err := p.Read(ctx, usermem.BytesIOSequence(buf)); n != 0 || err != nil {
		t.Fatalf("Read at EOF: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestPipeReadiness(t *testing.T) {
	const all = waiter.EventIn | waiter.EventOut | waiter.EventErr | waiter.EventHUp
	for _, test := range []struct {
		name string
		// setup runs against a fresh pipe.
		setup    func(p *Pipe)
		readable bool
		writable bool
		want     waiter.EventMask
	}{
		{
			name:     "fresh pipe, read end",
			setup:    func(p *Pipe) { p.open(true, false); p.open(false, true) },
			readable: true,
		},
		{
			name:     "fresh pipe, write end",
			setup:    func(p *Pipe) { p.open(true, false); p.open(false, true) },
			writable: true,
			want:     waiter.EventOut,
		},
		{
			name:     "never had a reader",
			setup:    func(p *Pipe) { p.open(false, true) },
			writable: true,
		},
		{
			name:     "never had a writer",
			setup:    func(p *Pipe) { p.open(true, false) },
			readable: true,
		},
		{
			name: "reader gone",
			setup: func(p *Pipe) {
				p.open(true, false)
				p.open(false, true)
				p.close(true, false)
			},
			writable: true,
			want:     waiter.EventOut | waiter.EventErr,
		},
		{
			name: "writer gone, empty",
			setup: func(p *Pipe) {
				p.open(true, false)
				p.open(false, true)
				p.close(false, true)
			},
			readable: true,
			want:     waiter.EventHUp,
		},
		{
			name: "data queued",
			setup: func(p *Pipe) {
				p.open(true, true)
				p.Write(context.Background(), usermem.BytesIOSequence([]byte("x")))
			},
			readable: true,
			writable: true,
			want:     waiter.EventIn | waiter.EventOut,
		},
		{
			name: "full",
			setup: func(p *Pipe) {
				p.open(true, true)
				p.Write(context.Background(), usermem.BytesIOSequence(make([]byte, MinimumPipeSize)))
			},
			readable: true,
			writable: true,
			want:     waiter.EventIn,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := NewPipe(MinimumPipeSize)
			test.setup(p)
			if got := p.Readiness(all, test.readable, test.writable); got != test.want {
				t.Errorf("Readiness: got %#x, wanted %#x", got, test.want)
			}
		})
	}
}

func TestPipeOpenWakesWaiters(t *testing.T) {
	p := NewPipe(DefaultPipeSize)

	var got []waiter.EventMask
	e := waiter.NewFunctionEntry(waiter.EventIn|waiter.EventOut, func(m waiter.EventMask) {
		got = append(got, m)
	})
	p.EventRegister(&e)
	defer p.EventUnregister(&e)

	p.open(false, true) // First writer.
	p.open(true, false) // First reader.
	p.open(true, false) // Not the first reader: no event.
	p.open(false, true) // Not the first writer: no event.

	if diff := cmp.Diff([]waiter.EventMask{waiter.EventIn, waiter.EventOut}, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeCloseAccounting(t *testing.T) {
	p := NewPipe(DefaultPipeSize)
	p.open(true, false)
	p.open(true, false)
	p.open(false, true)

	hups := 0
	e := waiter.NewFunctionEntry(waiter.EventOut, func(m waiter.EventMask) {
		if m&waiter.EventHUp != 0 {
			hups++
		}
	})
	p.EventRegister(&e)
	defer p.EventUnregister(&e)

	p.close(true, false)
	p.close(true, false)
	if p.readers != 0 || !p.hadReader {
		t.Errorf("after closing both readers: readers=%d hadReader=%t, wanted 0 and true", p.readers, p.hadReader)
	}
	if hups != 1 {
		t.Errorf("got %d hang-up notifications, wanted 1", hups)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("closing a reader that was never opened did not panic")
		}
	}()
	p.close(true, false)
}

func TestPipeSetPipeSize(t *testing.T) {
	for _, test := range []struct {
		size    int64
		want    int64
		wantErr error
	}{
		{size: 0, want: MinimumPipeSize},
		{size: 1, want: MinimumPipeSize},
		{size: MinimumPipeSize, want: MinimumPipeSize},
		{size: MinimumPipeSize + 1, want: 2 * MinimumPipeSize},
		{size: DefaultPipeSize, want: DefaultPipeSize},
		{size: MaximumPipeSize, want: MaximumPipeSize},
		{size: MaximumPipeSize + 1, wantErr: linuxerr.EINVAL},
		{size: -1, wantErr: linuxerr.EINVAL},
	} {
		p := NewPipe(DefaultPipeSize)
		got, err := p.SetPipeSize(test.size)
		if err != test.wantErr || got != test.want {
			t.Errorf("SetPipeSize(%d): got (%d, %v), wanted (%d, %v)", test.size, got, err, test.want, test.wantErr)
			continue
		}
		if err == nil && p.PipeSize() != test.want {
			t.Errorf("PipeSize after SetPipeSize(%d): got %d, wanted %d", test.size, p.PipeSize(), test.want)
		}
	}
}

func TestPipeShrinkBelowQueued(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(DefaultPipeSize)
	p.open(true, true)
	if _, err := p.Write(ctx, usermem.BytesIOSequence(make([]byte, 2*MinimumPipeSize))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := p.SetPipeSize(MinimumPipeSize); err != linuxerr.EINVAL {
		t.Errorf("SetPipeSize below queued bytes: got %v, wanted EINVAL", err)
	}
	if got := p.PipeSize(); got != DefaultPipeSize {
		t.Errorf("PipeSize after failed shrink: got %d, wanted %d", got, DefaultPipeSize)
	}
}
