// Package sim is a software GPU. It implements gpumem.Allocator and
// gpumem.SharedMemory over host memory and executes command streams on a
// single queue goroutine in submission order, including the binning pass,
// predication and control word writes.
//
// Buffer contents, fences and stream execution behave like a real queue:
// Submit returns before the stream has run, and released buffers are freed
// only once the fence they were released behind has signaled. A stream that
// touches a freed buffer fails its fence.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"honnef.co/go/safeish"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
	"github.com/gogpu/tbdr/internal/align"
	"github.com/gogpu/tbdr/internal/parallel"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sim: device closed")

	// ErrForeignFence is returned by Wait for fences of another device.
	ErrForeignFence = errors.New("sim: fence belongs to another device")
)

// DefaultQueueDepth is the number of streams that can be queued before
// Submit blocks.
const DefaultQueueDepth = 4

// Buffer is host memory standing in for a GPU allocation.
type Buffer struct {
	dev      *Device
	label    string
	size     uint64
	words    []uint64
	data     []byte
	released bool
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Fence signals completion of one submitted stream.
type Fence struct {
	seq  uint64
	done chan struct{}
	res  Result
}

// Seq returns the submission sequence number, starting at 1.
func (f *Fence) Seq() uint64 { return f.seq }

// Done is closed when the stream has executed.
func (f *Fence) Done() <-chan struct{} { return f.done }

// Signaled reports whether the stream has executed.
func (f *Fence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns what the stream did. It is only meaningful once the fence
// has signaled.
func (f *Fence) Result() Result {
	<-f.done
	return f.res
}

// Stats counts device activity.
type Stats struct {
	Submitted    uint64
	Completed    uint64
	Allocs       uint64
	Frees        uint64
	FailedAllocs uint64
	LiveBuffers  int
	LiveBytes    uint64

	DrawsReplayed  uint64
	DrawsSkipped   uint64
	OverflowPipes  uint64
	FailedStreams  uint64
	PendingRelease int
}

type job struct {
	stream *cmdstream.Stream
	fence  *Fence
}

type release struct {
	buf   *Buffer
	after uint64
}

// Device is a software GPU. It is safe for concurrent use.
type Device struct {
	log  *slog.Logger
	pool *parallel.Pool

	submitMu sync.Mutex
	jobs     chan job
	seq      uint64
	worker   sync.WaitGroup

	mu        sync.Mutex
	resumed   *sync.Cond
	paused    bool
	closed    bool
	buffers   map[*Buffer]struct{}
	pending   []release
	completed uint64
	failures  int
	stats     Stats
}

type config struct {
	workers    int
	queueDepth int
	log        *slog.Logger
}

// Option configures a Device.
type Option func(*config)

// WithWorkers sets the number of goroutines that bin pipes in parallel.
// The default is GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithQueueDepth sets how many streams can wait for execution.
func WithQueueDepth(n int) Option {
	return func(c *config) {
		c.queueDepth = n
	}
}

// WithLogger sets the device logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// NewDevice starts a software GPU.
func NewDevice(opts ...Option) *Device {
	cfg := config{queueDepth: DefaultQueueDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.DiscardHandler)
	}
	cfg.queueDepth = max(cfg.queueDepth, 1)

	d := &Device{
		log:     cfg.log,
		pool:    parallel.NewPool(cfg.workers),
		jobs:    make(chan job, cfg.queueDepth),
		buffers: make(map[*Buffer]struct{}),
	}
	d.resumed = sync.NewCond(&d.mu)

	d.worker.Add(1)
	go d.run()
	return d
}

// Alloc allocates a zeroed buffer. Alignment must be zero or a power of
// two; host memory is always word aligned.
func (d *Device) Alloc(label string, size, alignment uint64) (gpumem.Buffer, error) {
	if alignment != 0 && alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("sim: alloc %s: alignment %d is not a power of two", label, alignment)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.failures > 0 {
		d.failures--
		d.stats.FailedAllocs++
		return nil, fmt.Errorf("%w: %s (%d bytes)", gpumem.ErrAllocationFailed, label, size)
	}

	words := make([]uint64, align.DivCeil(size, gpumem.WordSize))
	b := &Buffer{
		dev:   d,
		label: label,
		size:  size,
		words: words,
		data:  safeish.SliceCast[[]byte](words)[:size],
	}
	d.buffers[b] = struct{}{}
	d.stats.Allocs++
	d.stats.LiveBuffers++
	d.stats.LiveBytes += size
	return b, nil
}

// FailAllocations makes the next n allocations fail with
// gpumem.ErrAllocationFailed.
func (d *Device) FailAllocations(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

// Release frees buf once the stream behind after has executed. A nil fence
// frees it immediately. Buffers of other devices are ignored.
func (d *Device) Release(buf gpumem.Buffer, after gpumem.Fence) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.dev != d {
		d.log.Warn("sim: release of foreign buffer ignored", "buffer", fmt.Sprintf("%T", buf))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	if after == nil || after.Seq() <= d.completed {
		d.free(b)
		return
	}
	d.pending = append(d.pending, release{buf: b, after: after.Seq()})
	d.stats.PendingRelease = len(d.pending)
}

// free must be called with d.mu held.
func (d *Device) free(b *Buffer) {
	if _, ok := d.buffers[b]; !ok {
		return
	}
	delete(d.buffers, b)
	d.stats.Frees++
	d.stats.LiveBuffers--
	d.stats.LiveBytes -= b.size
}

// Wait blocks until f has signaled or ctx is done. It returns the stream's
// execution error, if any.
func (d *Device) Wait(ctx context.Context, f gpumem.Fence) error {
	if f == nil {
		return nil
	}
	sf, ok := f.(*Fence)
	if !ok {
		return ErrForeignFence
	}
	select {
	case <-sf.done:
		if sf.res.Err != nil {
			return fmt.Errorf("sim: stream %d: %w", sf.seq, sf.res.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup must be called with d.mu held.
func (d *Device) lookup(buf gpumem.Buffer, off, n uint64) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.dev != d {
		return nil, gpumem.ErrForeignBuffer
	}
	if _, live := d.buffers[b]; !live {
		return nil, fmt.Errorf("%w: %s", gpumem.ErrReleased, b.label)
	}
	if off+n > b.size || off+n < off {
		return nil, fmt.Errorf("%w: %s [%d, %d) of %d", gpumem.ErrOutOfBounds, b.label, off, off+n, b.size)
	}
	return b, nil
}

// ReadWord reads the word at a word-aligned offset.
func (d *Device) ReadWord(buf gpumem.Buffer, off uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readWord(buf, off)
}

func (d *Device) readWord(buf gpumem.Buffer, off uint64) (uint64, error) {
	if off%gpumem.WordSize != 0 {
		return 0, fmt.Errorf("%w: unaligned word offset %d", gpumem.ErrOutOfBounds, off)
	}
	b, err := d.lookup(buf, off, gpumem.WordSize)
	if err != nil {
		return 0, err
	}
	return b.words[off/gpumem.WordSize], nil
}

// WriteWord writes the word at a word-aligned offset.
func (d *Device) WriteWord(buf gpumem.Buffer, off, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeWord(buf, off, v)
}

func (d *Device) writeWord(buf gpumem.Buffer, off, v uint64) error {
	if off%gpumem.WordSize != 0 {
		return fmt.Errorf("%w: unaligned word offset %d", gpumem.ErrOutOfBounds, off)
	}
	b, err := d.lookup(buf, off, gpumem.WordSize)
	if err != nil {
		return err
	}
	b.words[off/gpumem.WordSize] = v
	return nil
}

// Contents returns a copy of a live buffer's bytes.
func (d *Device) Contents(buf gpumem.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(buf, 0, 0)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b.data...), nil
}

// Submit queues s for execution and returns its fence. It blocks while the
// queue is full.
func (d *Device) Submit(ctx context.Context, s *cmdstream.Stream) (gpumem.Fence, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f := &Fence{seq: d.seq + 1, done: make(chan struct{})}
	select {
	case d.jobs <- job{stream: s, fence: f}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.seq++

	d.mu.Lock()
	d.stats.Submitted++
	d.mu.Unlock()
	return f, nil
}

// Pause stops the queue before the next stream. Streams already queued
// wait until Resume.
func (d *Device) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume restarts a paused queue.
func (d *Device) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.resumed.Broadcast()
}

func (d *Device) run() {
	defer d.worker.Done()
	for j := range d.jobs {
		d.mu.Lock()
		for d.paused {
			d.resumed.Wait()
		}
		d.mu.Unlock()

		e := newExecutor(d)
		e.run(j.stream)
		d.complete(j.fence, e.res)
	}
}

func (d *Device) complete(f *Fence, res Result) {
	d.mu.Lock()
	f.res = res
	d.completed = f.seq
	d.stats.Completed++
	d.stats.DrawsReplayed += uint64(res.DrawsReplayed)
	d.stats.DrawsSkipped += uint64(res.DrawsSkipped)
	d.stats.OverflowPipes += uint64(res.OverflowPipes)
	if res.Err != nil {
		d.stats.FailedStreams++
	}

	kept := d.pending[:0]
	for _, r := range d.pending {
		if r.after <= d.completed {
			d.free(r.buf)
			continue
		}
		kept = append(kept, r)
	}
	d.pending = kept
	d.stats.PendingRelease = len(d.pending)
	d.mu.Unlock()

	close(f.done)
	if res.Err != nil {
		d.log.Warn("sim: stream failed", "seq", f.seq, "err", res.Err)
	} else {
		d.log.Debug("sim: stream executed",
			"seq", f.seq,
			"draws", res.DrawsReplayed,
			"skipped", res.DrawsSkipped,
			"overflow_pipes", res.OverflowPipes)
	}
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close drains the queue, stops the device and frees every buffer.
func (d *Device) Close() error {
	d.submitMu.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.submitMu.Unlock()
		return nil
	}
	d.closed = true
	d.paused = false
	d.mu.Unlock()
	d.resumed.Broadcast()
	close(d.jobs)
	d.submitMu.Unlock()

	d.worker.Wait()
	d.pool.Close()

	d.mu.Lock()
	for b := range d.buffers {
		d.free(b)
	}
	d.pending = nil
	d.stats.PendingRelease = 0
	d.mu.Unlock()
	return nil
}
