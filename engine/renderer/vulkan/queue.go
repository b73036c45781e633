package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Queue implements hal.Queue on the device's single queue.
type Queue struct {
	d      *Device
	handle vk.Queue
	family uint32
}

func (q *Queue) Submit(info hal.SubmitInfo) error {
	d := q.d
	cmds := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	for _, h := range info.CommandBuffers {
		cb, err := d.cmdBuffers.lookup("command buffer", uint64(h))
		if err != nil {
			return err
		}
		switch cb.State {
		case COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
			return fmt.Errorf("submit command buffer %d: %w", h, core.ErrStillRecording)
		case COMMAND_BUFFER_STATE_READY:
			return fmt.Errorf("submit command buffer %d: %w", h, core.ErrNotRecording)
		}
		cmds = append(cmds, cb.Handle)
	}

	waits := make([]vk.Semaphore, 0, len(info.Waits))
	stages := make([]vk.PipelineStageFlags, 0, len(info.Waits))
	for _, w := range info.Waits {
		s, err := d.semaphores.lookup("semaphore", uint64(w.Semaphore))
		if err != nil {
			return err
		}
		waits = append(waits, s)
		stages = append(stages, vkStages(w.Stage))
	}
	signals, err := q.semaphores(info.Signals)
	if err != nil {
		return err
	}

	var fenceHandle vk.Fence
	if info.Fence != 0 {
		f, err := d.fences.lookup("fence", uint64(info.Fence))
		if err != nil {
			return err
		}
		fenceHandle = f.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	return d.locks.SafeQueueCall(q.family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, fenceHandle))
	})
}

func (q *Queue) semaphores(hs []hal.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(hs))
	for _, h := range hs {
		s, err := q.d.semaphores.lookup("semaphore", uint64(h))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Present returns img to the swapchain once waits are signaled. A
// suboptimal present still shows the image but is reported as
// core.ErrSuboptimal so the caller reconfigures.
func (q *Queue) Present(s hal.Surface, img hal.AcquiredImage, waits ...hal.Semaphore) error {
	surface, ok := s.(*Surface)
	if !ok {
		return fmt.Errorf("present on a %T: %w", s, core.ErrInvalidHandle)
	}
	waitSemaphores, err := q.semaphores(waits)
	if err != nil {
		return err
	}
	return q.d.locks.SafeCall(SwapchainManagement, func() error {
		if surface.swapchain == nil {
			return fmt.Errorf("present on an unconfigured surface: %w", core.ErrOutOfDate)
		}
		surface.acquired--
		presentInfo := vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: uint32(len(waitSemaphores)),
			PWaitSemaphores:    waitSemaphores,
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{surface.swapchain},
			PImageIndices:      []uint32{uint32(img.Index)},
		}
		return q.d.locks.SafeQueueCall(q.family, func() error {
			return resultError("vkQueuePresentKHR", vk.QueuePresent(q.handle, &presentInfo))
		})
	})
}
