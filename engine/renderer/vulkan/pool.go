package vulkan

import "sync"

type LockGroup string

// Groups of calls the Vulkan spec requires to be externally synchronized.
const (
	CommandPoolManagement LockGroup = "command_pool_management"
	SwapchainManagement   LockGroup = "swapchain_management"
	MemoryManagement      LockGroup = "memory_management"
)

// VulkanLockPool hands out one mutex per lock group and one per queue
// family.
type VulkanLockPool struct {
	mu           sync.Mutex
	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) group(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) queue(family uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.queueMutexes[family]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[family] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.group(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeQueueCall runs fn with the queue family's mutex held. Submissions,
// presents and vkDeviceWaitIdle all go through here.
func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := vs.queue(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()
	return fn()
}
