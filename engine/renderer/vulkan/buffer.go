package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type buffer struct {
	Handle vk.Buffer
	size   uint64
}

type memory struct {
	Handle vk.DeviceMemory
	size   uint64
	mapped bool
	// Non-coherent memory is invalidated on every map.
	coherent bool
}

func (d *Device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	if size == 0 {
		return 0, fmt.Errorf("zero sized buffer")
	}
	var handle vk.Buffer
	err := resultError("vkCreateBuffer", vk.CreateBuffer(d.LogicalDevice, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       vkBufferUsage(usage),
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, d.inst.Allocator, &handle))
	if err != nil {
		return 0, err
	}
	return hal.Buffer(d.buffers.add(&buffer{Handle: handle, size: size})), nil
}

func (d *Device) DestroyBuffer(h hal.Buffer) {
	if b, ok := d.buffers.remove(uint64(h)); ok {
		vk.DestroyBuffer(d.LogicalDevice, b.Handle, d.inst.Allocator)
	}
}

func (d *Device) AllocateMemory(h hal.Buffer, props hal.MemoryProperty) (hal.Memory, error) {
	b, err := d.buffers.lookup("buffer", uint64(h))
	if err != nil {
		return 0, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, b.Handle, &memReqs)
	memReqs.Deref()

	memType := d.FindMemoryIndex(memReqs.MemoryTypeBits, vkMemoryProperties(props))
	if memType == -1 && props&hal.MemoryHostCached != 0 {
		// Cached host memory is a preference; plain host-visible memory
		// reads back the same bytes, only slower.
		memType = d.FindMemoryIndex(memReqs.MemoryTypeBits, vkMemoryProperties(props&^hal.MemoryHostCached))
	}
	if memType == -1 {
		return 0, fmt.Errorf("no memory type with properties %#x: %w", props, core.ErrOutOfDeviceMemory)
	}
	d.Memory.MemoryTypes[memType].Deref()
	flags := d.Memory.MemoryTypes[memType].PropertyFlags

	out := &memory{
		size:     uint64(memReqs.Size),
		coherent: flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0,
	}
	err = d.locks.SafeCall(MemoryManagement, func() error {
		return resultError("vkAllocateMemory", vk.AllocateMemory(d.LogicalDevice, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memReqs.Size,
			MemoryTypeIndex: uint32(memType),
		}, d.inst.Allocator, &out.Handle))
	})
	if err != nil {
		return 0, err
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(d.LogicalDevice, b.Handle, out.Handle, 0)); err != nil {
		vk.FreeMemory(d.LogicalDevice, out.Handle, d.inst.Allocator)
		return 0, err
	}
	return hal.Memory(d.memories.add(out)), nil
}

func (d *Device) FreeMemory(h hal.Memory) {
	m, ok := d.memories.remove(uint64(h))
	if !ok {
		return
	}
	if m.mapped {
		vk.UnmapMemory(d.LogicalDevice, m.Handle)
	}
	_ = d.locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(d.LogicalDevice, m.Handle, d.inst.Allocator)
		return nil
	})
}

// MapMemory maps [offset, offset+size) of h. The slice aliases device
// memory and is valid until UnmapMemory.
func (d *Device) MapMemory(h hal.Memory, offset, size uint64) ([]byte, error) {
	m, err := d.memories.lookup("memory", uint64(h))
	if err != nil {
		return nil, err
	}
	if m.mapped {
		return nil, fmt.Errorf("memory %d is already mapped", h)
	}
	if size == hal.WholeSize {
		size = m.size - offset
	}
	if offset+size > m.size {
		return nil, fmt.Errorf("map [%d, %d) exceeds memory %d of size %d", offset, offset+size, h, m.size)
	}
	var pData unsafe.Pointer
	if err := resultError("vkMapMemory", vk.MapMemory(d.LogicalDevice, m.Handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData)); err != nil {
		return nil, err
	}
	m.mapped = true
	if !m.coherent {
		// offset must be a multiple of nonCoherentAtomSize; callers map
		// whole allocations from 0.
		err := resultError("vkInvalidateMappedMemoryRanges", vk.InvalidateMappedMemoryRanges(d.LogicalDevice, 1, []vk.MappedMemoryRange{{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: m.Handle,
			Offset: vk.DeviceSize(offset),
			Size:   vk.DeviceSize(vk.WholeSize),
		}}))
		if err != nil {
			vk.UnmapMemory(d.LogicalDevice, m.Handle)
			m.mapped = false
			return nil, err
		}
	}
	return unsafe.Slice((*byte)(pData), size), nil
}

func (d *Device) UnmapMemory(h hal.Memory) {
	m, ok := d.memories.get(uint64(h))
	if !ok || !m.mapped {
		return
	}
	vk.UnmapMemory(d.LogicalDevice, m.Handle)
	m.mapped = false
}
