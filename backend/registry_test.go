package backend

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
)

type stubDevice struct {
	gpumem.Allocator
	gpumem.SharedMemory
	name string
}

func (stubDevice) Submit(context.Context, *cmdstream.Stream) (gpumem.Fence, error) {
	return nil, nil
}

func (stubDevice) Close() error { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-b", func() (Device, error) { return stubDevice{name: "b"}, nil })
	Register("stub-a", func() (Device, error) { return stubDevice{name: "a"}, nil })
	defer Unregister("stub-a")
	defer Unregister("stub-b")

	if !IsRegistered("stub-a") {
		t.Error("stub-a not registered")
	}
	names := Available()
	if !slices.IsSorted(names) {
		t.Errorf("Available() = %v, not sorted", names)
	}

	d, err := Open("stub-b")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := d.(stubDevice).name; got != "b" {
		t.Errorf("Open(stub-b) returned %q", got)
	}

	if _, err := Open("missing"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(missing) err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	Register("broken", func() (Device, error) { return nil, boom })
	defer Unregister("broken")

	if _, err := Open("broken"); !errors.Is(err, boom) {
		t.Errorf("Open(broken) err = %v, want boom", err)
	}
}

func TestOpenDefault_FallsBackToFirstName(t *testing.T) {
	registryMu.Lock()
	saved := backends
	backends = map[string]Factory{
		"zeta":  func() (Device, error) { return stubDevice{name: "zeta"}, nil },
		"alpha": func() (Device, error) { return stubDevice{name: "alpha"}, nil },
	}
	registryMu.Unlock()
	defer func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	}()

	d, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault failed: %v", err)
	}
	if got := d.(stubDevice).name; got != "alpha" {
		t.Errorf("OpenDefault picked %q, want alpha", got)
	}
}
