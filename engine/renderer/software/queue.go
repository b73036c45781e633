package software

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Queue executes submissions in order on the CPU. Work is deferred until
// something waits for it (a fence wait, WaitIdle, a full queue or the
// latency option), so the protocol sees real asynchrony.
type Queue struct {
	d *Device
}

type submission struct {
	seq     uint64
	cmds    []hal.CommandBuffer
	waits   []hal.Semaphore
	signals []hal.Semaphore
	fence   hal.Fence
}

func (q *Queue) Submit(info hal.SubmitInfo) error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Submits++
	d.logCall(Call{Op: OpSubmit, Fence: info.Fence, Semaphores: append([]hal.Semaphore(nil), info.Signals...)})
	if err := d.fault(OpSubmit); err != nil {
		return err
	}
	if d.lost {
		return fmt.Errorf("submit: %w", core.ErrDeviceLost)
	}

	for _, h := range info.CommandBuffers {
		cb, ok := d.cmdBuffers[h]
		if !ok {
			return fmt.Errorf("command buffer %d: %w", h, core.ErrInvalidHandle)
		}
		switch cb.state {
		case cbExecutable:
		case cbRecording:
			return fmt.Errorf("submit command buffer %d: %w", h, core.ErrStillRecording)
		case cbPending:
			if cb.oneTime {
				d.violation("one-time command buffer %d submitted while pending", h)
				return fmt.Errorf("command buffer %d is already pending", h)
			}
		default:
			return fmt.Errorf("submit command buffer %d in state %s: %w", h, cb.state, core.ErrNotRecording)
		}
	}

	sub := &submission{
		seq:     d.seq,
		cmds:    append([]hal.CommandBuffer(nil), info.CommandBuffers...),
		signals: append([]hal.Semaphore(nil), info.Signals...),
		fence:   info.Fence,
	}
	d.seq++
	for _, w := range info.Waits {
		s, ok := d.semaphores[w.Semaphore]
		if !ok {
			return fmt.Errorf("semaphore %d: %w", w.Semaphore, core.ErrInvalidHandle)
		}
		if s.state == semUnsignaled {
			d.violation("submission %d waits on semaphore %d that nothing will signal", sub.seq, w.Semaphore)
		}
		sub.waits = append(sub.waits, w.Semaphore)
	}
	for _, h := range sub.signals {
		s, ok := d.semaphores[h]
		if !ok {
			return fmt.Errorf("semaphore %d: %w", h, core.ErrInvalidHandle)
		}
		if s.state != semUnsignaled {
			d.violation("semaphore %d signaled again before its previous signal was consumed", h)
		}
		s.state = semPending
		s.awaited = false
	}
	if sub.fence != 0 {
		fc, ok := d.fences[sub.fence]
		if !ok {
			return fmt.Errorf("fence %d: %w", sub.fence, core.ErrInvalidHandle)
		}
		if fc.signaled || fc.pending != nil {
			d.violation("fence %d submitted while signaled or in use", sub.fence)
		}
		fc.signaled = false
		fc.pending = sub
	}
	for _, h := range sub.cmds {
		cb := d.cmdBuffers[h]
		cb.state = cbPending
		cb.inFlight++
	}

	if d.pending.IsFull() {
		d.retireOldest()
	}
	if err := d.pending.Enqueue(sub); err != nil {
		return err
	}
	if sub.fence != 0 {
		d.outstanding++
		if d.outstanding > d.stats.MaxOutstanding {
			d.stats.MaxOutstanding = d.outstanding
		}
	}
	if d.rng != nil {
		for n := d.rng.Intn(d.pending.Len() + 1); n > 0; n-- {
			d.retireOldest()
		}
	}
	return nil
}

// Present hands img back to s. Wait semaphores already signaled are
// consumed immediately; pending ones are consumed when their submission
// retires.
func (q *Queue) Present(s hal.Surface, img hal.AcquiredImage, waits ...hal.Semaphore) error {
	d := q.d
	surf, ok := s.(*Surface)
	if !ok || surf.d != d {
		return errors.New("present: surface does not belong to this device")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Presents++
	d.logCall(Call{Op: OpPresent, Handle: uint64(img.Index), Semaphores: append([]hal.Semaphore(nil), waits...)})
	if d.lost {
		return fmt.Errorf("present: %w", core.ErrDeviceLost)
	}
	for _, h := range waits {
		sm, ok := d.semaphores[h]
		if !ok {
			return fmt.Errorf("semaphore %d: %w", h, core.ErrInvalidHandle)
		}
		switch sm.state {
		case semSignaled:
			sm.state = semUnsignaled
		case semPending:
			sm.awaited = true
		default:
			d.violation("present waits on semaphore %d that nothing will signal", h)
		}
	}
	surf.releaseLocked(img.Index)
	if err := d.fault(OpPresent); err != nil {
		return err
	}
	if err := surf.nextPresentResult(); err != nil {
		return err
	}
	if surf.outOfDate {
		return fmt.Errorf("present: %w", core.ErrOutOfDate)
	}
	return nil
}

// retireOldest executes the oldest pending submission and signals its
// semaphores and fence. Called with d.mu held.
func (d *Device) retireOldest() {
	sub, err := d.pending.Dequeue()
	if err != nil {
		return
	}
	for _, h := range sub.waits {
		if s, ok := d.semaphores[h]; ok {
			if s.state != semSignaled {
				d.violation("submission %d executed before semaphore %d was signaled", sub.seq, h)
			}
			s.state = semUnsignaled
		}
	}
	for _, h := range sub.cmds {
		cb, ok := d.cmdBuffers[h]
		if !ok {
			continue
		}
		for _, cmd := range cb.commands {
			cmd(d)
		}
		if cb.inFlight--; cb.inFlight > 0 {
			continue
		}
		if cb.oneTime {
			cb.state = cbInvalid
		} else {
			cb.state = cbExecutable
		}
	}
	for _, h := range sub.signals {
		s, ok := d.semaphores[h]
		if !ok {
			continue
		}
		if s.awaited {
			s.state = semUnsignaled
			s.awaited = false
		} else {
			s.state = semSignaled
		}
	}
	if sub.fence != 0 {
		if fc, ok := d.fences[sub.fence]; ok && fc.pending == sub {
			fc.signaled = true
			fc.pending = nil
		}
		d.outstanding--
	}
}
