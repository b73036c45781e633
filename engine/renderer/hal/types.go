package hal

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// InfiniteTimeout is the only timeout the frame protocol uses. A wedged GPU
// wedges the calling goroutine.
const InfiniteTimeout = time.Duration(math.MaxInt64)

// WholeSize maps or copies everything from the offset to the end.
const WholeSize = ^uint64(0)

// Native object handles. Values are assigned by the backend; zero is the
// null handle.
type (
	Fence         uint64
	Semaphore     uint64
	CommandPool   uint64
	CommandBuffer uint64
	Buffer        uint64
	Memory        uint64
	Image         uint64
	ImageView     uint64
	RenderPass    uint64
	Framebuffer   uint64
)

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type Offset struct {
	X int32
	Y int32
}

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatRGBA16Float
)

var formatNames = map[Format]string{
	FormatUndefined:   "undefined",
	FormatRGBA8Unorm:  "rgba8unorm",
	FormatBGRA8Unorm:  "bgra8unorm",
	FormatR8Unorm:     "r8unorm",
	FormatRGBA16Float: "rgba16float",
}

// BytesPerPixel returns the texel size. All supported formats are
// uncompressed, so blocks are 1x1.
func (f Format) BytesPerPixel() uint64 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm:
		return 4
	case FormatR8Unorm:
		return 1
	case FormatRGBA16Float:
		return 8
	}
	return 0
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s && f != FormatUndefined {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("unknown format %q", s)
}

func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color_attachment"
	case LayoutShaderReadOnly:
		return "shader_read_only"
	case LayoutTransferSrc:
		return "transfer_src"
	case LayoutTransferDst:
		return "transfer_dst"
	case LayoutPresent:
		return "present"
	}
	return fmt.Sprintf("Layout(%d)", uint8(l))
}

func (l *Layout) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for v := LayoutUndefined; v <= LayoutPresent; v++ {
		if v.String() == s {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown layout %q", s)
}

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageFragmentShader
	StageColorAttachmentOutput
	StageComputeShader
	StageHost
	StageBottomOfPipe
)

type Access uint32

const (
	AccessNone Access = 0
)

const (
	AccessTransferRead Access = 1 << iota
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
)

// ImageState is the access/layout pair an image is kept in between
// commands.
type ImageState struct {
	Access Access
	Layout Layout
}

type ImageBarrier struct {
	Image Image
	From  ImageState
	To    ImageState
}

type BufferBarrier struct {
	Buffer Buffer
	From   Access
	To     Access
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
)

type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryHostCached
)

type ImageDesc struct {
	Extent Extent
	Format Format
	Usage  ImageUsage
}

// BufferImageCopy describes one buffer<->image region. RowLength is in
// texels; zero means tightly packed to the image extent.
type BufferImageCopy struct {
	BufferOffset uint64
	RowLength    uint32
	ImageHeight  uint32
	ImageOffset  Offset
	ImageExtent  Extent
}

type BufferCopy struct {
	Src  uint64
	Dst  uint64
	Size uint64
}

type ClearColor [4]float32

type LoadOp uint8

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

func (op *LoadOp) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "load":
		*op = LoadOpLoad
	case "clear":
		*op = LoadOpClear
	case "dont_care", "":
		*op = LoadOpDontCare
	default:
		return fmt.Errorf("unknown load op %q", b)
	}
	return nil
}

type AttachmentDesc struct {
	Format        Format
	Load          LoadOp
	InitialLayout Layout
	FinalLayout   Layout
}

type RenderPassDesc struct {
	Attachments []AttachmentDesc
}

type RenderPassBegin struct {
	Pass        RenderPass
	Framebuffer Framebuffer
	Area        Extent
	ClearColors []ClearColor
}

type Limits struct {
	// Row pitch of buffer<->image copies should be a multiple of this.
	OptimalBufferCopyPitchAlignment uint64
	// Buffer offset of buffer<->image copies should be a multiple of this.
	OptimalBufferCopyOffsetAlignment uint64
}

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitInfo is one queue submission: command buffers executed in order,
// semaphores waited before and signaled after, and an optional fence
// signaled on completion.
type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
	Fence          Fence
}

type SurfaceConfig struct {
	Extent     Extent
	Format     Format
	ImageCount int
	VSync      bool
}

type SurfaceCapabilities struct {
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
	MinImageCount int
	MaxImageCount int
	Formats       []Format
}

// Minimized reports whether the surface currently has no drawable area.
// Nothing can be configured until it grows again.
func (c SurfaceCapabilities) Minimized() bool {
	return c.MaxExtent.IsZero() || c.CurrentExtent.IsZero()
}

// Clamp fits e into the supported extent range. A defined current extent
// wins over the requested one.
func (c SurfaceCapabilities) Clamp(e Extent) Extent {
	if c.CurrentExtent.Width != math.MaxUint32 {
		e = c.CurrentExtent
	}
	e.Width = clamp(e.Width, c.MinExtent.Width, c.MaxExtent.Width)
	e.Height = clamp(e.Height, c.MinExtent.Height, c.MaxExtent.Height)
	return e
}

// ClampImageCount fits n into the supported image count range. A zero
// maximum means no upper limit.
func (c SurfaceCapabilities) ClampImageCount(n int) int {
	if n < c.MinImageCount {
		n = c.MinImageCount
	}
	if c.MaxImageCount > 0 && n > c.MaxImageCount {
		n = c.MaxImageCount
	}
	return n
}

func clamp(v, lo, hi uint32) uint32 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

type AcquiredImage struct {
	Index      int
	View       ImageView
	Suboptimal bool
}
