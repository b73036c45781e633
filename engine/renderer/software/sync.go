package software

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type fence struct {
	signaled bool
	// Submission that will signal the fence, if any.
	pending *submission
}

type semState uint8

const (
	semUnsignaled semState = iota
	// A pending submission will signal it.
	semPending
	semSignaled
)

type semaphore struct {
	state semState
	// A present is waiting on the pending signal and consumes it as soon
	// as it happens.
	awaited bool
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateFence); err != nil {
		return 0, err
	}
	f := hal.Fence(d.newHandle(kindFence))
	d.fences[f] = &fence{signaled: signaled}
	d.logCall(Call{Op: OpCreateFence, Handle: uint64(f)})
	return f, nil
}

func (d *Device) DestroyFence(f hal.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.release(uint64(f), kindFence) {
		return
	}
	if fc := d.fences[f]; fc != nil && fc.pending != nil {
		d.violation("fence %d destroyed while in use", f)
	}
	delete(d.fences, f)
}

// WaitForFence retires queued submissions until f is signaled. A fence
// that no submission will ever signal would block forever on a real
// device; here it times out immediately.
func (d *Device) WaitForFence(f hal.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FenceWaits++
	d.logCall(Call{Op: OpWaitFence, Handle: uint64(f)})
	if err := d.fault(OpWaitFence); err != nil {
		return err
	}
	if d.lost {
		return fmt.Errorf("wait for fence %d: %w", f, core.ErrDeviceLost)
	}
	fc, ok := d.fences[f]
	if !ok {
		d.violation("waiting on unknown fence %d", f)
		return fmt.Errorf("fence %d: %w", f, core.ErrInvalidHandle)
	}
	for !fc.signaled && fc.pending != nil && !d.pending.IsEmpty() {
		d.retireOldest()
	}
	if !fc.signaled {
		return fmt.Errorf("fence %d is never signaled: %w", f, core.ErrTimeout)
	}
	return nil
}

func (d *Device) ResetFence(f hal.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FenceResets++
	d.logCall(Call{Op: OpResetFence, Handle: uint64(f)})
	if err := d.fault(OpResetFence); err != nil {
		return err
	}
	fc, ok := d.fences[f]
	if !ok {
		d.violation("resetting unknown fence %d", f)
		return fmt.Errorf("fence %d: %w", f, core.ErrInvalidHandle)
	}
	if fc.pending != nil {
		d.violation("fence %d reset while its submission is pending", f)
	}
	fc.signaled = false
	return nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateSemaphore); err != nil {
		return 0, err
	}
	s := hal.Semaphore(d.newHandle(kindSemaphore))
	d.semaphores[s] = &semaphore{}
	d.logCall(Call{Op: OpCreateSemaphore, Handle: uint64(s)})
	return s, nil
}

func (d *Device) DestroySemaphore(s hal.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.release(uint64(s), kindSemaphore) {
		return
	}
	if sm := d.semaphores[s]; sm != nil && sm.state == semPending {
		d.violation("semaphore %d destroyed while in use", s)
	}
	delete(d.semaphores, s)
}

// FenceSignaled reports the current state of f without retiring anything.
func (d *Device) FenceSignaled(f hal.Fence) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	return ok && fc.signaled
}
