package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice(WithWorkers(2))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func mustAlloc(t *testing.T, d *Device, label string, size uint64) gpumem.Buffer {
	t.Helper()
	buf, err := d.Alloc(label, size, gpumem.WordSize)
	if err != nil {
		t.Fatalf("Alloc(%s) failed: %v", label, err)
	}
	return buf
}

func TestDevice_AllocZeroed(t *testing.T) {
	d := newTestDevice(t)
	buf := mustAlloc(t, d, "zeroed", 20)

	if buf.Size() != 20 || buf.Label() != "zeroed" {
		t.Errorf("buffer = %s/%d, want zeroed/20", buf.Label(), buf.Size())
	}
	data, err := d.Contents(buf)
	if err != nil {
		t.Fatalf("Contents failed: %v", err)
	}
	if len(data) != 20 {
		t.Fatalf("len(Contents) = %d, want 20", len(data))
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestDevice_AllocBadAlignment(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.Alloc("bad", 16, 12); err == nil {
		t.Error("Alloc with alignment 12 succeeded")
	}
}

func TestDevice_FailAllocations(t *testing.T) {
	d := newTestDevice(t)
	d.FailAllocations(2)

	for i := range 2 {
		if _, err := d.Alloc("fail", 8, 8); !errors.Is(err, gpumem.ErrAllocationFailed) {
			t.Fatalf("alloc %d: err = %v, want ErrAllocationFailed", i, err)
		}
	}
	if _, err := d.Alloc("ok", 8, 8); err != nil {
		t.Fatalf("third alloc failed: %v", err)
	}
	if got := d.Stats().FailedAllocs; got != 2 {
		t.Errorf("FailedAllocs = %d, want 2", got)
	}
}

func TestDevice_Words(t *testing.T) {
	d := newTestDevice(t)
	buf := mustAlloc(t, d, "words", 16)

	if err := d.WriteWord(buf, 8, 0xdeadbeef); err != nil {
		t.Fatalf("WriteWord failed: %v", err)
	}
	v, err := d.ReadWord(buf, 8)
	if err != nil {
		t.Fatalf("ReadWord failed: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("ReadWord = %#x, want 0xdeadbeef", v)
	}

	tests := []struct {
		name string
		buf  gpumem.Buffer
		off  uint64
		want error
	}{
		{"past end", buf, 16, gpumem.ErrOutOfBounds},
		{"unaligned", buf, 4, gpumem.ErrOutOfBounds},
		{"foreign", foreignBuffer{}, 0, gpumem.ErrForeignBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.ReadWord(tt.buf, tt.off); !errors.Is(err, tt.want) {
				t.Errorf("ReadWord err = %v, want %v", err, tt.want)
			}
			if err := d.WriteWord(tt.buf, tt.off, 1); !errors.Is(err, tt.want) {
				t.Errorf("WriteWord err = %v, want %v", err, tt.want)
			}
		})
	}
}

type foreignBuffer struct{}

func (foreignBuffer) Label() string { return "foreign" }
func (foreignBuffer) Size() uint64  { return 64 }

func TestDevice_ReleaseImmediately(t *testing.T) {
	d := newTestDevice(t)
	buf := mustAlloc(t, d, "now", 8)

	d.Release(buf, nil)
	if _, err := d.ReadWord(buf, 0); !errors.Is(err, gpumem.ErrReleased) {
		t.Errorf("ReadWord after release: err = %v, want ErrReleased", err)
	}
	if st := d.Stats(); st.LiveBuffers != 0 || st.Frees != 1 {
		t.Errorf("stats = %+v, want no live buffers and one free", st)
	}
	d.Release(buf, nil)
	if got := d.Stats().Frees; got != 1 {
		t.Errorf("double release freed again: Frees = %d", got)
	}
}

func TestDevice_ReleaseBehindFence(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()
	buf := mustAlloc(t, d, "later", 8)

	d.Pause()
	fence, err := d.Submit(ctx, cmdstream.New())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	d.Release(buf, fence)

	if _, err := d.ReadWord(buf, 0); err != nil {
		t.Fatalf("buffer freed before its fence: %v", err)
	}
	if got := d.Stats().PendingRelease; got != 1 {
		t.Errorf("PendingRelease = %d, want 1", got)
	}

	d.Resume()
	if err := d.Wait(ctx, fence); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if _, err := d.ReadWord(buf, 0); !errors.Is(err, gpumem.ErrReleased) {
		t.Errorf("buffer still live after fence: err = %v", err)
	}
}

func TestDevice_WaitHonorsContext(t *testing.T) {
	d := newTestDevice(t)
	d.Pause()
	defer d.Resume()

	fence, err := d.Submit(context.Background(), cmdstream.New())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx, fence); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want DeadlineExceeded", err)
	}
}

func TestDevice_WaitForeignFence(t *testing.T) {
	d := newTestDevice(t)
	if err := d.Wait(context.Background(), otherFence(1)); !errors.Is(err, ErrForeignFence) {
		t.Errorf("Wait err = %v, want ErrForeignFence", err)
	}
	if err := d.Wait(context.Background(), nil); err != nil {
		t.Errorf("Wait(nil) = %v, want nil", err)
	}
}

type otherFence uint64

func (f otherFence) Seq() uint64 { return uint64(f) }

func TestDevice_SubmissionOrder(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	var fences []gpumem.Fence
	for range 10 {
		f, err := d.Submit(ctx, cmdstream.New())
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		fences = append(fences, f)
	}
	if err := d.Wait(ctx, fences[len(fences)-1]); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	for i, f := range fences {
		if f.Seq() != uint64(i+1) {
			t.Errorf("fence %d Seq = %d, want %d", i, f.Seq(), i+1)
		}
		if !f.(*Fence).Signaled() {
			t.Errorf("fence %d not signaled after a later fence", i)
		}
	}
}

func TestDevice_Close(t *testing.T) {
	d := NewDevice()
	buf := mustAlloc(t, d, "leak", 8)
	_ = buf

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if st := d.Stats(); st.LiveBuffers != 0 || st.LiveBytes != 0 {
		t.Errorf("stats after Close = %+v, want nothing live", st)
	}
	if _, err := d.Submit(context.Background(), cmdstream.New()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: err = %v, want ErrClosed", err)
	}
	if _, err := d.Alloc("late", 8, 8); !errors.Is(err, ErrClosed) {
		t.Errorf("Alloc after Close: err = %v, want ErrClosed", err)
	}
}
