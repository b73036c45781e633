// Package software is an in-memory implementation of the hal interfaces.
// It executes recorded copies, clears and barriers on the CPU in
// submission order, tracks fence, semaphore and layout state, counts every
// native object it hands out and records protocol misuse as violations.
// The frame ring, submission driver and scene runner tests run against it,
// and the reftest harness uses it when no GPU is available.
package software

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/gfxring/engine/containers"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

var (
	_ hal.Device  = (*Device)(nil)
	_ hal.Queue   = (*Queue)(nil)
	_ hal.Surface = (*Surface)(nil)
)

// Op names a device call in the call log.
type Op string

const (
	OpCreateFence           Op = "create_fence"
	OpWaitFence             Op = "wait_fence"
	OpResetFence            Op = "reset_fence"
	OpCreateSemaphore       Op = "create_semaphore"
	OpCreateCommandPool     Op = "create_command_pool"
	OpResetCommandPool      Op = "reset_command_pool"
	OpAllocateCommandBuffer Op = "allocate_command_buffer"
	OpBegin                 Op = "begin"
	OpEnd                   Op = "end"
	OpSubmit                Op = "submit"
	OpAcquire               Op = "acquire"
	OpPresent               Op = "present"
	OpConfigure             Op = "configure"
	OpCreateBuffer          Op = "create_buffer"
	OpAllocateMemory        Op = "allocate_memory"
	OpMapMemory             Op = "map_memory"
	OpCreateImage           Op = "create_image"
	OpCreateImageView       Op = "create_image_view"
	OpCreateRenderPass      Op = "create_render_pass"
	OpCreateFramebuffer     Op = "create_framebuffer"
	OpWaitIdle              Op = "wait_idle"
	OpDestroy               Op = "destroy"
)

// Call is one entry of the device call log.
type Call struct {
	Op     Op
	Handle uint64
	// Submit: the signal fence.
	Fence hal.Fence
	// Submit: signaled semaphores. Present: waited semaphores.
	Semaphores []hal.Semaphore
	// AllocateMemory: requested properties.
	Memory hal.MemoryProperty
}

type Stats struct {
	Submits     int
	FenceWaits  int
	FenceResets int
	PoolResets  int
	Acquires    int
	Presents    int
	Configures  int
	Created     int
	Destroyed   int
	DoubleFrees int
	// Highest number of fenced submissions pending at once.
	MaxOutstanding int
	Violations     []string
}

type kind uint8

const (
	kindFence kind = iota
	kindSemaphore
	kindCommandPool
	kindCommandBuffer
	kindBuffer
	kindMemory
	kindImage
	kindImageView
	kindRenderPass
	kindFramebuffer
)

var kindNames = [...]string{"fence", "semaphore", "command pool", "command buffer", "buffer", "memory", "image", "image view", "render pass", "framebuffer"}

func (k kind) String() string { return kindNames[k] }

type object struct {
	kind kind
	refs int
}

type Option func(*Device)

// WithLimits overrides the default copy alignments.
func WithLimits(l hal.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// WithQueueDepth bounds the number of submissions the queue holds before
// it retires the oldest one on its own.
func WithQueueDepth(n int) Option {
	return func(d *Device) { d.pending = containers.NewRingQueue[*submission](n) }
}

// WithLatency makes the queue retire a random number of pending
// submissions after each submit, so completion no longer lines up with
// fence waits.
func WithLatency(seed uint64) Option {
	return func(d *Device) { d.rng = rand.New(rand.NewSource(seed)) }
}

// WithStrict panics on the first violation.
func WithStrict() Option {
	return func(d *Device) { d.strict = true }
}

type Device struct {
	mu      sync.Mutex
	next    uint64
	objects map[uint64]*object
	limits  hal.Limits
	strict  bool
	lost    bool
	rng     *rand.Rand

	fences       map[hal.Fence]*fence
	semaphores   map[hal.Semaphore]*semaphore
	pools        map[hal.CommandPool]*commandPool
	cmdBuffers   map[hal.CommandBuffer]*commandBuffer
	buffers      map[hal.Buffer]*buffer
	memories     map[hal.Memory]*memory
	images       map[hal.Image]*image
	views        map[hal.ImageView]hal.Image
	renderPasses map[hal.RenderPass]hal.RenderPassDesc
	framebuffers map[hal.Framebuffer]*framebuffer

	pending     *containers.RingQueue[*submission]
	outstanding int
	seq         uint64
	queue       *Queue

	calls  []Call
	stats  Stats
	faults map[Op][]error
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		objects: make(map[uint64]*object),
		limits: hal.Limits{
			OptimalBufferCopyPitchAlignment:  256,
			OptimalBufferCopyOffsetAlignment: 16,
		},
		fences:       make(map[hal.Fence]*fence),
		semaphores:   make(map[hal.Semaphore]*semaphore),
		pools:        make(map[hal.CommandPool]*commandPool),
		cmdBuffers:   make(map[hal.CommandBuffer]*commandBuffer),
		buffers:      make(map[hal.Buffer]*buffer),
		memories:     make(map[hal.Memory]*memory),
		images:       make(map[hal.Image]*image),
		views:        make(map[hal.ImageView]hal.Image),
		renderPasses: make(map[hal.RenderPass]hal.RenderPassDesc),
		framebuffers: make(map[hal.Framebuffer]*framebuffer),
		pending:      containers.NewRingQueue[*submission](64),
		faults:       make(map[Op][]error),
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = &Queue{d: d}
	return d
}

// Queue returns the device's only queue.
func (d *Device) Queue() *Queue {
	return d.queue
}

// FailNext makes the next call of op return err.
func (d *Device) FailNext(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], err)
}

// Lose puts the device in the lost state. Every later wait and submit
// fails with core.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Violations = append([]string(nil), d.stats.Violations...)
	return s
}

// Calls returns a copy of the call log.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Live returns the number of objects created and not yet destroyed.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.refs > 0 {
			n++
		}
	}
	return n
}

// Outstanding returns the number of fenced submissions not yet retired.
func (d *Device) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding
}

func (d *Device) Limits() hal.Limits {
	return d.limits
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logCall(Call{Op: OpWaitIdle})
	if err := d.fault(OpWaitIdle); err != nil {
		return err
	}
	if d.lost {
		return fmt.Errorf("wait idle: %w", core.ErrDeviceLost)
	}
	for !d.pending.IsEmpty() {
		d.retireOldest()
	}
	return nil
}

func (d *Device) logCall(c Call) {
	d.calls = append(d.calls, c)
}

func (d *Device) fault(op Op) error {
	errs := d.faults[op]
	if len(errs) == 0 {
		return nil
	}
	d.faults[op] = errs[1:]
	return errs[0]
}

func (d *Device) violation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if d.strict {
		panic("software: " + msg)
	}
	core.LogWarn("software device violation: %s", msg)
	d.stats.Violations = append(d.stats.Violations, msg)
}

func (d *Device) newHandle(k kind) uint64 {
	d.next++
	d.objects[d.next] = &object{kind: k, refs: 1}
	d.stats.Created++
	return d.next
}

// release drops the creation reference of h. It reports whether the
// object was alive.
func (d *Device) release(h uint64, k kind) bool {
	d.logCall(Call{Op: OpDestroy, Handle: h})
	if h == 0 {
		return false
	}
	o, ok := d.objects[h]
	switch {
	case !ok || o.kind != k:
		d.violation("destroying unknown %s %d", k, h)
		return false
	case o.refs == 0:
		d.stats.DoubleFrees++
		d.violation("%s %d destroyed twice", k, h)
		return false
	}
	o.refs--
	d.stats.Destroyed++
	return true
}

func (d *Device) alive(h uint64, k kind) bool {
	o, ok := d.objects[h]
	return ok && o.kind == k && o.refs > 0
}

