package scene

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Description is the on-disk form of a scene: named resources and named
// jobs recorded against them.
type Description struct {
	Resources Resources          `toml:"resources"`
	Jobs      map[string]JobSpec `toml:"jobs"`
}

type Resources struct {
	Buffers      map[string]BufferSpec      `toml:"buffers"`
	Images       map[string]ImageSpec       `toml:"images"`
	RenderPasses map[string]RenderPassSpec  `toml:"render_passes"`
	Framebuffers map[string]FramebufferSpec `toml:"framebuffers"`
}

// BufferSpec describes a device-local buffer. Initial contents come from
// Data, a file relative to the scene data directory, or from Bytes.
type BufferSpec struct {
	Size  uint64   `toml:"size"`
	Usage []string `toml:"usage"`
	Data  string   `toml:"data"`
	Bytes []int    `toml:"bytes"`
}

// ImageSpec describes a 2D, single level, single sample image. Data holds
// tightly packed rows.
type ImageSpec struct {
	Width  uint32     `toml:"width"`
	Height uint32     `toml:"height"`
	Format hal.Format `toml:"format"`
	Usage  []string   `toml:"usage"`
	Data   string     `toml:"data"`
	Bytes  []int      `toml:"bytes"`
}

type AttachmentSpec struct {
	Format        hal.Format `toml:"format"`
	Load          hal.LoadOp `toml:"load"`
	InitialLayout hal.Layout `toml:"initial_layout"`
	FinalLayout   hal.Layout `toml:"final_layout"`
}

type RenderPassSpec struct {
	Attachments []AttachmentSpec `toml:"attachments"`
}

// FramebufferSpec binds one view of each listed image to the attachments
// of Pass, in order.
type FramebufferSpec struct {
	Pass   string   `toml:"pass"`
	Images []string `toml:"images"`
	Width  uint32   `toml:"width"`
	Height uint32   `toml:"height"`
}

// JobSpec is either a list of transfer commands or one graphics pass.
type JobSpec struct {
	Transfer []TransferSpec `toml:"transfer"`
	Graphics *GraphicsSpec  `toml:"graphics"`
}

const (
	OpCopyBuffer        = "copy_buffer"
	OpCopyBufferToImage = "copy_buffer_to_image"
	OpCopyImageToBuffer = "copy_image_to_buffer"
	OpClearImage        = "clear_image"
)

// TransferSpec is one transfer command. Which fields are used depends on
// Op. A zero Size copies the whole source buffer; a zero RowLength means
// rows are tightly packed.
type TransferSpec struct {
	Op        string    `toml:"op"`
	Src       string    `toml:"src"`
	Dst       string    `toml:"dst"`
	SrcOffset uint64    `toml:"src_offset"`
	DstOffset uint64    `toml:"dst_offset"`
	Size      uint64    `toml:"size"`
	RowLength uint32    `toml:"row_length"`
	Color     []float32 `toml:"color"`
}

type GraphicsSpec struct {
	Framebuffer string      `toml:"framebuffer"`
	ClearColors [][]float32 `toml:"clear_colors"`
}

// ParseDescription decodes a TOML scene description.
func ParseDescription(b []byte) (*Description, error) {
	var d Description
	if err := toml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse scene description: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func LoadDescription(path string) (*Description, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	d, err := ParseDescription(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Validate checks references between resources and jobs.
func (d *Description) Validate() error {
	r := &d.Resources
	for name, b := range r.Buffers {
		if b.Size == 0 {
			return fmt.Errorf("buffer %q: zero size", name)
		}
		if _, err := parseBufferUsage(b.Usage); err != nil {
			return fmt.Errorf("buffer %q: %w", name, err)
		}
	}
	for name, img := range r.Images {
		if img.Width == 0 || img.Height == 0 {
			return fmt.Errorf("image %q: zero extent", name)
		}
		if img.Format == hal.FormatUndefined {
			return fmt.Errorf("image %q: missing format", name)
		}
		if _, err := parseImageUsage(img.Usage); err != nil {
			return fmt.Errorf("image %q: %w", name, err)
		}
	}
	for name, fb := range r.Framebuffers {
		rp, ok := r.RenderPasses[fb.Pass]
		if !ok {
			return fmt.Errorf("framebuffer %q: unknown render pass %q", name, fb.Pass)
		}
		if len(fb.Images) != len(rp.Attachments) {
			return fmt.Errorf("framebuffer %q: %d images for %d attachments", name, len(fb.Images), len(rp.Attachments))
		}
		for _, img := range fb.Images {
			if _, ok := r.Images[img]; !ok {
				return fmt.Errorf("framebuffer %q: unknown image %q", name, img)
			}
		}
	}
	for name, j := range d.Jobs {
		if (len(j.Transfer) == 0) == (j.Graphics == nil) {
			return fmt.Errorf("job %q: needs either transfer commands or a graphics pass", name)
		}
		if j.Graphics != nil {
			if _, ok := r.Framebuffers[j.Graphics.Framebuffer]; !ok {
				return fmt.Errorf("job %q: unknown framebuffer %q", name, j.Graphics.Framebuffer)
			}
		}
		for i, t := range j.Transfer {
			if err := d.validateTransfer(t); err != nil {
				return fmt.Errorf("job %q command %d: %w", name, i, err)
			}
		}
	}
	return nil
}

func (d *Description) validateTransfer(t TransferSpec) error {
	buffer := func(n string) error {
		if _, ok := d.Resources.Buffers[n]; !ok {
			return fmt.Errorf("unknown buffer %q", n)
		}
		return nil
	}
	image := func(n string) error {
		if _, ok := d.Resources.Images[n]; !ok {
			return fmt.Errorf("unknown image %q", n)
		}
		return nil
	}
	first := func(errs ...error) error {
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}
	switch t.Op {
	case OpCopyBuffer:
		return first(buffer(t.Src), buffer(t.Dst))
	case OpCopyBufferToImage:
		return first(buffer(t.Src), image(t.Dst))
	case OpCopyImageToBuffer:
		return first(image(t.Src), buffer(t.Dst))
	case OpClearImage:
		if len(t.Color) != 4 {
			return fmt.Errorf("clear color needs 4 components, has %d", len(t.Color))
		}
		return image(t.Dst)
	}
	return fmt.Errorf("unknown transfer op %q", t.Op)
}

var bufferUsages = map[string]hal.BufferUsage{
	"transfer_src": hal.BufferUsageTransferSrc,
	"transfer_dst": hal.BufferUsageTransferDst,
	"uniform":      hal.BufferUsageUniform,
	"storage":      hal.BufferUsageStorage,
	"vertex":       hal.BufferUsageVertex,
	"index":        hal.BufferUsageIndex,
}

var imageUsages = map[string]hal.ImageUsage{
	"transfer_src":     hal.ImageUsageTransferSrc,
	"transfer_dst":     hal.ImageUsageTransferDst,
	"sampled":          hal.ImageUsageSampled,
	"storage":          hal.ImageUsageStorage,
	"color_attachment": hal.ImageUsageColorAttachment,
}

func parseBufferUsage(names []string) (hal.BufferUsage, error) {
	var u hal.BufferUsage
	for _, n := range names {
		v, ok := bufferUsages[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown buffer usage %q", n)
		}
		u |= v
	}
	return u, nil
}

func parseImageUsage(names []string) (hal.ImageUsage, error) {
	var u hal.ImageUsage
	for _, n := range names {
		v, ok := imageUsages[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown image usage %q", n)
		}
		u |= v
	}
	return u, nil
}

func clearColor(c []float32) hal.ClearColor {
	var cc hal.ClearColor
	copy(cc[:], c)
	return cc
}
