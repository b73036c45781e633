package frame

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

func TestInvalidRingLength(t *testing.T) {
	dev := software.NewDevice()
	for _, n := range []int{0, -1} {
		if _, err := NewFrameRing(dev, n); !errors.Is(err, core.ErrInvalidRingLength) {
			t.Errorf("NewFrameRing(%d)\nhave %v\nwant %v", n, err, core.ErrInvalidRingLength)
		}
	}
}

func TestRingSlotFor(t *testing.T) {
	dev := software.NewDevice()
	r, err := NewFrameRing(dev, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Teardown()
	if r.Len() != 3 {
		t.Errorf("r.Len()\nhave %d\nwant 3", r.Len())
	}
	for n, want := range []int{0, 1, 2, 0, 1, 2, 0} {
		if s := r.SlotFor(uint64(n)); s.Index != want {
			t.Errorf("r.SlotFor(%d).Index\nhave %d\nwant %d", n, s.Index, want)
		}
	}
	if r.SlotFor(1<<63+1) != r.SlotFor((1<<63+1)%3) {
		t.Error("SlotFor does not wrap by modulo")
	}
	seen := map[uint64]bool{}
	for i := 0; i < r.Len(); i++ {
		s := r.SlotFor(uint64(i))
		for _, h := range []uint64{uint64(s.CompletionFence), uint64(s.CompletionSemaphore), uint64(s.CommandPool), uint64(s.CommandBuffer)} {
			if h == 0 || seen[h] {
				t.Errorf("slot %d has a null or shared handle %d", i, h)
			}
			seen[h] = true
		}
	}
}

func TestRingAllocationFailure(t *testing.T) {
	cases := []software.Op{
		software.OpCreateFence,
		software.OpCreateSemaphore,
		software.OpCreateCommandPool,
		software.OpAllocateCommandBuffer,
	}
	for _, op := range cases {
		t.Run(string(op), func(t *testing.T) {
			dev := software.NewDevice()
			// Let the first object of the kind succeed so the rollback
			// has something to destroy.
			dev.FailNext(op, nil)
			dev.FailNext(op, core.ErrOutOfDeviceMemory)
			r, err := NewFrameRing(dev, 3)
			if !errors.Is(err, core.ErrOutOfDeviceMemory) {
				t.Fatalf("NewFrameRing\nhave %v\nwant %v", err, core.ErrOutOfDeviceMemory)
			}
			if r != nil {
				t.Error("NewFrameRing returned a ring with an error")
			}
			if n := dev.Live(); n != 0 {
				t.Errorf("live objects after failed NewFrameRing\nhave %d\nwant 0", n)
			}
			if st := dev.Stats(); st.DoubleFrees != 0 || len(st.Violations) != 0 {
				t.Errorf("rollback misused the device: %+v", st)
			}
		})
	}
}

func TestRingTeardownIdempotent(t *testing.T) {
	dev := software.NewDevice()
	r, err := NewFrameRing(dev, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Teardown(); err != nil {
		t.Fatal(err)
	}
	if err := r.Teardown(); err != nil {
		t.Fatal(err)
	}
	st := dev.Stats()
	if st.DoubleFrees != 0 {
		t.Errorf("DoubleFrees\nhave %d\nwant 0", st.DoubleFrees)
	}
	if dev.Live() != 0 {
		t.Errorf("dev.Live()\nhave %d\nwant 0", dev.Live())
	}
}
