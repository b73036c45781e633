// Package frame implements the frames-in-flight protocol: a ring of
// per-frame command recording and synchronization slots, and the driver
// that moves one frame at a time through acquire, record, submit and
// present while recovering from swapchain invalidation.
package frame

import (
	"fmt"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// FrameSlot is the set of objects one in-flight frame records into and
// synchronizes on. The slot for frame n is reused by frame n+Len() only
// after CompletionFence has been observed signaled.
type FrameSlot struct {
	Index               int
	CommandPool         hal.CommandPool
	CommandBuffer       hal.CommandBuffer
	CompletionFence     hal.Fence
	CompletionSemaphore hal.Semaphore

	// armed is set while the fence is signaled or will be signaled by a
	// submission. An unarmed fence would never signal, so waiting on it
	// is skipped.
	armed bool
}

// WaitCompletion blocks until the last submission made from the slot has
// completed.
func (s *FrameSlot) WaitCompletion(dev hal.Device) error {
	if !s.armed {
		return nil
	}
	if err := dev.WaitForFence(s.CompletionFence, hal.InfiniteTimeout); err != nil {
		return fmt.Errorf("frame slot %d: %w", s.Index, err)
	}
	return nil
}

// Reset returns the fence to unsignaled and every command buffer of the
// slot to the initial state. Call only after WaitCompletion.
func (s *FrameSlot) Reset(dev hal.Device) error {
	if s.armed {
		if err := dev.ResetFence(s.CompletionFence); err != nil {
			return fmt.Errorf("frame slot %d: reset fence: %w", s.Index, err)
		}
		s.armed = false
	}
	if err := dev.ResetCommandPool(s.CommandPool); err != nil {
		return fmt.Errorf("frame slot %d: reset command pool: %w", s.Index, err)
	}
	return nil
}

type RingOption func(*ringOptions)

type ringOptions struct {
	unsignaled bool
}

// WithUnsignaledFences creates the completion fences unsignaled. The
// first use of each slot then skips the fence wait.
func WithUnsignaledFences() RingOption {
	return func(o *ringOptions) { o.unsignaled = true }
}

// FrameRing owns Len() frame slots. It is not safe for concurrent use.
type FrameRing struct {
	dev     hal.Device
	slots   []FrameSlot
	destroy hal.DestructionList
	closed  bool
}

// NewFrameRing creates length slots on dev. If any creation fails, the
// objects already created are destroyed and the error is returned.
func NewFrameRing(dev hal.Device, length int, opts ...RingOption) (*FrameRing, error) {
	if length < 1 {
		return nil, fmt.Errorf("new frame ring of length %d: %w", length, core.ErrInvalidRingLength)
	}
	var o ringOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &FrameRing{dev: dev, slots: make([]FrameSlot, length)}
	fail := func(what string, i int, err error) (*FrameRing, error) {
		r.destroy.Destroy()
		err = fmt.Errorf("frame ring: create %s %d: %w", what, i, err)
		core.LogError(err.Error())
		return nil, err
	}

	for i := range r.slots {
		s := &r.slots[i]
		s.Index = i
		f, err := dev.CreateFence(!o.unsignaled)
		if err != nil {
			return fail("fence", i, err)
		}
		s.CompletionFence = f
		s.armed = !o.unsignaled
		r.destroy.Push(fmt.Sprintf("fence %d", i), func() { dev.DestroyFence(f) })
	}
	for i := range r.slots {
		sem, err := dev.CreateSemaphore()
		if err != nil {
			return fail("semaphore", i, err)
		}
		r.slots[i].CompletionSemaphore = sem
		r.destroy.Push(fmt.Sprintf("semaphore %d", i), func() { dev.DestroySemaphore(sem) })
	}
	for i := range r.slots {
		p, err := dev.CreateCommandPool()
		if err != nil {
			return fail("command pool", i, err)
		}
		r.destroy.Push(fmt.Sprintf("command pool %d", i), func() { dev.DestroyCommandPool(p) })
		cb, err := dev.AllocateCommandBuffer(p)
		if err != nil {
			return fail("command buffer", i, err)
		}
		r.slots[i].CommandPool = p
		r.slots[i].CommandBuffer = cb
	}

	core.LogDebug("frame ring created: %d slots, unsignaled fences: %t", length, o.unsignaled)
	return r, nil
}

func (r *FrameRing) Len() int {
	return len(r.slots)
}

// SlotFor returns the slot frame n records into.
func (r *FrameRing) SlotFor(n uint64) *FrameSlot {
	return &r.slots[n%uint64(len(r.slots))]
}

// Teardown waits for the device to go idle and destroys every slot
// object. Calling it again does nothing.
func (r *FrameRing) Teardown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.dev.WaitIdle()
	if err != nil {
		err = fmt.Errorf("frame ring teardown: %w", err)
		core.LogWarn(err.Error())
	}
	r.destroy.Destroy()
	return err
}
