package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type fence struct {
	Handle vk.Fence
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var pFence vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.inst.Allocator, &pFence)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return hal.Fence(d.fences.add(&fence{Handle: pFence})), nil
}

func (d *Device) DestroyFence(h hal.Fence) {
	if f, ok := d.fences.remove(uint64(h)); ok {
		vk.DestroyFence(d.LogicalDevice, f.Handle, d.inst.Allocator)
	}
}

func (d *Device) WaitForFence(h hal.Fence, timeout time.Duration) error {
	f, err := d.fences.lookup("fence", uint64(h))
	if err != nil {
		return err
	}
	result := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, vkTimeout(timeout))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return resultError("vkWaitForFences", result)
}

func (d *Device) ResetFence(h hal.Fence) error {
	f, err := d.fences.lookup("fence", uint64(h))
	if err != nil {
		return err
	}
	return resultError("vkResetFences", vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{f.Handle}))
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var s vk.Semaphore
	if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.inst.Allocator, &s)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return hal.Semaphore(d.semaphores.add(s)), nil
}

func (d *Device) DestroySemaphore(h hal.Semaphore) {
	if s, ok := d.semaphores.remove(uint64(h)); ok {
		vk.DestroySemaphore(d.LogicalDevice, s, d.inst.Allocator)
	}
}
