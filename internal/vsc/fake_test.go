package vsc

import (
	"context"
	"fmt"

	"github.com/gogpu/tbdr/gpumem"
)

type fakeBuffer struct {
	label string
	words []uint64
}

func (b *fakeBuffer) Label() string { return b.label }
func (b *fakeBuffer) Size() uint64  { return uint64(len(b.words)) * gpumem.WordSize }

type fakeFence uint64

func (f fakeFence) Seq() uint64 { return uint64(f) }

type release struct {
	buf   gpumem.Buffer
	after gpumem.Fence
}

// fakeMemory is an allocator whose fences are always signaled.
type fakeMemory struct {
	live     map[*fakeBuffer]bool
	released []release
	failNext int
	waitErr  error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{live: make(map[*fakeBuffer]bool)}
}

func (m *fakeMemory) Alloc(label string, size, alignment uint64) (gpumem.Buffer, error) {
	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("fake: %s: %w", label, gpumem.ErrAllocationFailed)
	}
	b := &fakeBuffer{label: label, words: make([]uint64, (size+7)/8)}
	m.live[b] = true
	return b, nil
}

func (m *fakeMemory) Release(buf gpumem.Buffer, after gpumem.Fence) {
	delete(m.live, buf.(*fakeBuffer))
	m.released = append(m.released, release{buf: buf, after: after})
}

func (m *fakeMemory) Wait(ctx context.Context, _ gpumem.Fence) error {
	if m.waitErr != nil {
		return m.waitErr
	}
	return ctx.Err()
}

func (m *fakeMemory) ReadWord(buf gpumem.Buffer, offset uint64) (uint64, error) {
	b := buf.(*fakeBuffer)
	if !m.live[b] {
		return 0, gpumem.ErrReleased
	}
	return b.words[offset/8], nil
}

func (m *fakeMemory) WriteWord(buf gpumem.Buffer, offset uint64, value uint64) error {
	b := buf.(*fakeBuffer)
	if !m.live[b] {
		return gpumem.ErrReleased
	}
	b.words[offset/8] = value
	return nil
}
