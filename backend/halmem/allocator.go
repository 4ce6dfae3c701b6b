// Package halmem implements gpumem on a gogpu/wgpu HAL device.
//
// Fences are queue submission indices. A buffer released behind a fence is
// destroyed once the queue reports that submission as completed.
package halmem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"honnef.co/go/safeish"

	"github.com/gogpu/tbdr/gpumem"
	"github.com/gogpu/tbdr/internal/align"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("halmem: allocator closed")

// DefaultPollInterval is how often Wait polls the queue.
const DefaultPollInterval = 100 * time.Microsecond

// bufferUsage covers storage access by shaders and copies in both
// directions.
const bufferUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// copyAlign is the size granularity of buffer copies.
const copyAlign = 4

// Buffer is a HAL buffer owned by an Allocator.
type Buffer struct {
	raw   hal.Buffer
	owner *Allocator
	label string
	size  uint64
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the requested size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Raw returns the underlying HAL buffer, for binding.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Fence is a queue submission index.
type Fence uint64

// Seq returns the submission index.
func (f Fence) Seq() uint64 { return uint64(f) }

type release struct {
	buf   *Buffer
	after uint64
}

// Allocator implements gpumem.Allocator and gpumem.SharedMemory on a HAL
// device and queue it does not own. It is safe for concurrent use.
type Allocator struct {
	device hal.Device
	queue  hal.Queue
	poll   time.Duration
	log    *slog.Logger

	mu      sync.Mutex
	live    map[*Buffer]struct{}
	pending []release
	closed  bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithPollInterval sets how often Wait checks the queue.
func WithPollInterval(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.poll = d
		}
	}
}

// WithLogger sets the allocator logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an allocator on device and queue.
func New(device hal.Device, queue hal.Queue, opts ...Option) *Allocator {
	a := &Allocator{
		device: device,
		queue:  queue,
		poll:   DefaultPollInterval,
		log:    slog.New(slog.DiscardHandler),
		live:   make(map[*Buffer]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromProvider creates an allocator on a device shared through gpucontext.
// The provider's device and queue must be HAL objects.
func FromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Allocator, error) {
	if p == nil {
		return nil, fmt.Errorf("halmem: nil device provider")
	}
	device, ok := p.Device().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("halmem: provider device %T is not a hal.Device", p.Device())
	}
	queue, ok := p.Queue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("halmem: provider queue %T is not a hal.Queue", p.Queue())
	}
	return New(device, queue, opts...), nil
}

// Alloc creates a buffer. Sizes are rounded up to the copy granularity.
// HAL buffers are placed by the driver, so alignment is only checked.
func (a *Allocator) Alloc(label string, size, alignment uint64) (gpumem.Buffer, error) {
	if alignment != 0 && alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("halmem: alloc %s: alignment %d is not a power of two", label, alignment)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	a.collect()

	raw, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  align.Up(max(size, copyAlign), copyAlign),
		Usage: bufferUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create %s buffer (%d bytes): %w", gpumem.ErrAllocationFailed, label, size, err)
	}
	b := &Buffer{raw: raw, owner: a, label: label, size: size}
	a.live[b] = struct{}{}
	a.log.Debug("halmem: buffer created", "label", label, "size", size)
	return b, nil
}

// Release destroys buf once the submission after has completed. A nil
// fence destroys it immediately.
func (a *Allocator) Release(buf gpumem.Buffer, after gpumem.Fence) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != a {
		a.log.Warn("halmem: release of foreign buffer ignored", "buffer", fmt.Sprintf("%T", buf))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[b]; !ok {
		return
	}
	if after == nil || after.Seq() <= a.queue.PollCompleted() {
		a.destroy(b)
		return
	}
	a.pending = append(a.pending, release{buf: b, after: after.Seq()})
}

// destroy must be called with a.mu held.
func (a *Allocator) destroy(b *Buffer) {
	delete(a.live, b)
	a.device.DestroyBuffer(b.raw)
	a.log.Debug("halmem: buffer destroyed", "label", b.label)
}

// collect destroys released buffers whose fence has completed. It must be
// called with a.mu held.
func (a *Allocator) collect() {
	if len(a.pending) == 0 {
		return
	}
	done := a.queue.PollCompleted()
	kept := a.pending[:0]
	for _, r := range a.pending {
		if r.after <= done {
			a.destroy(r.buf)
			continue
		}
		kept = append(kept, r)
	}
	a.pending = kept
}

// Submit submits command buffers and returns the fence of the submission.
func (a *Allocator) Submit(cmds []hal.CommandBuffer) (gpumem.Fence, error) {
	idx, err := a.queue.Submit(cmds)
	if err != nil {
		return nil, fmt.Errorf("halmem: submit: %w", err)
	}
	return Fence(idx), nil
}

// Wait polls the queue until f has completed or ctx is done.
func (a *Allocator) Wait(ctx context.Context, f gpumem.Fence) error {
	if f == nil {
		return nil
	}
	target := f.Seq()
	var timer *time.Timer
	for {
		if a.queue.PollCompleted() >= target {
			a.mu.Lock()
			a.collect()
			a.mu.Unlock()
			return nil
		}
		if timer == nil {
			timer = time.NewTimer(a.poll)
			defer timer.Stop()
		} else {
			timer.Reset(a.poll)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Allocator) lookup(buf gpumem.Buffer, off uint64) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != a {
		return nil, gpumem.ErrForeignBuffer
	}
	if off%gpumem.WordSize != 0 || off+gpumem.WordSize > b.size {
		return nil, fmt.Errorf("%w: %s word at %d of %d", gpumem.ErrOutOfBounds, b.label, off, b.size)
	}
	a.mu.Lock()
	_, live := a.live[b]
	a.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("%w: %s", gpumem.ErrReleased, b.label)
	}
	return b, nil
}

// WriteWord writes one word through the queue.
func (a *Allocator) WriteWord(buf gpumem.Buffer, off, v uint64) error {
	b, err := a.lookup(buf, off)
	if err != nil {
		return err
	}
	word := []uint64{v}
	if err := a.queue.WriteBuffer(b.raw, off, safeish.SliceCast[[]byte](word)); err != nil {
		return fmt.Errorf("halmem: write %s+%d: %w", b.label, off, err)
	}
	return nil
}

// ReadWord reads one word through a host mapping. The buffer must be host
// visible, and the caller must have waited for every submission that
// writes it.
func (a *Allocator) ReadWord(buf gpumem.Buffer, off uint64) (uint64, error) {
	b, err := a.lookup(buf, off)
	if err != nil {
		return 0, err
	}
	m, err := a.device.MapBuffer(b.raw, off, gpumem.WordSize)
	if err != nil {
		return 0, fmt.Errorf("halmem: map %s+%d: %w", b.label, off, err)
	}
	bytes := unsafe.Slice((*byte)(m.Ptr), gpumem.WordSize)
	v := safeish.SliceCast[[]uint64](bytes)[0]
	if err := a.device.UnmapBuffer(b.raw); err != nil {
		return 0, fmt.Errorf("halmem: unmap %s: %w", b.label, err)
	}
	return v, nil
}

// Live returns the number of buffers not yet destroyed.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close waits for the device to go idle and destroys every buffer. The
// device and queue are left alone.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.device.WaitIdle()
	for b := range a.live {
		a.destroy(b)
	}
	a.pending = nil
	if err != nil {
		return fmt.Errorf("halmem: wait idle: %w", err)
	}
	return nil
}
