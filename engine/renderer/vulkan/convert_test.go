package vulkan

import (
	"errors"
	"math"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

func TestResultError(t *testing.T) {
	for _, x := range [...]struct {
		res  vk.Result
		want error
	}{
		{vk.Suboptimal, core.ErrSuboptimal},
		{vk.ErrorOutOfDate, core.ErrOutOfDate},
		{vk.ErrorSurfaceLost, core.ErrSurfaceLost},
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.Timeout, core.ErrTimeout},
		{vk.NotReady, core.ErrTimeout},
		{vk.ErrorOutOfHostMemory, core.ErrOutOfHostMemory},
		{vk.ErrorOutOfDeviceMemory, core.ErrOutOfDeviceMemory},
		{vk.ErrorInitializationFailed, core.ErrUnknown},
	} {
		err := resultError("op", x.res)
		if !errors.Is(err, x.want) {
			t.Errorf("resultError(%s)\nhave %v\nwant %v", VulkanResultString(x.res), err, x.want)
		}
	}
	if err := resultError("op", vk.Success); err != nil {
		t.Errorf("resultError(VK_SUCCESS)\nhave %v\nwant nil", err)
	}
	if !core.IsSwapchainInvalid(resultError("op", vk.Suboptimal)) {
		t.Error("suboptimal should invalidate the swapchain")
	}
}

func TestVulkanResultString(t *testing.T) {
	if s := VulkanResultString(vk.ErrorOutOfDate); s != "VK_ERROR_OUT_OF_DATE_KHR" {
		t.Errorf("VulkanResultString\nhave %s\nwant VK_ERROR_OUT_OF_DATE_KHR", s)
	}
	if s := VulkanResultString(vk.Result(12345)); s != "VkResult(12345)" {
		t.Errorf("VulkanResultString\nhave %s\nwant VkResult(12345)", s)
	}
}

func TestTimeout(t *testing.T) {
	if have := vkTimeout(hal.InfiniteTimeout); have != math.MaxUint64 {
		t.Errorf("vkTimeout(infinite)\nhave %d\nwant %d", have, uint64(math.MaxUint64))
	}
	if have := vkTimeout(2 * time.Millisecond); have != 2_000_000 {
		t.Errorf("vkTimeout(2ms)\nhave %d\nwant 2000000", have)
	}
}

func TestFormats(t *testing.T) {
	for f := range formats {
		if have := halFormat(vkFormat(f)); have != f {
			t.Errorf("halFormat(vkFormat(%s))\nhave %s\nwant %s", f, have, f)
		}
	}
	if have := vkFormat(hal.FormatUndefined); have != vk.FormatUndefined {
		t.Errorf("vkFormat(undefined)\nhave %d\nwant %d", have, vk.FormatUndefined)
	}
}

func TestStages(t *testing.T) {
	have := vkStages(hal.StageTransfer | hal.StageColorAttachmentOutput)
	want := vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageColorAttachmentOutputBit)
	if have != want {
		t.Errorf("vkStages\nhave %#x\nwant %#x", have, want)
	}
	if have := vkStages(0); have != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Errorf("vkStages(0)\nhave %#x\nwant top of pipe", have)
	}
	if have := vkAccess(hal.AccessNone); have != 0 {
		t.Errorf("vkAccess(none)\nhave %#x\nwant 0", have)
	}
}

func TestTable(t *testing.T) {
	tb := newTable[string]()
	a := tb.add("a")
	b := tb.add("b")
	if a == 0 || a == b {
		t.Fatalf("table handles\nhave %d, %d\nwant distinct non-zero", a, b)
	}
	if v, ok := tb.get(b); !ok || v != "b" {
		t.Errorf("table.get(%d)\nhave %q, %t\nwant \"b\", true", b, v, ok)
	}
	tb.remove(a)
	if _, err := tb.lookup("thing", a); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("lookup of removed handle\nhave %v\nwant %v", err, core.ErrInvalidHandle)
	}
	if n := tb.len(); n != 1 {
		t.Errorf("table.len\nhave %d\nwant 1", n)
	}
}

func TestStrings(t *testing.T) {
	if have := cString([]byte{'a', 'b', 0, 'c'}); have != "ab" {
		t.Errorf("cString\nhave %q\nwant \"ab\"", have)
	}
	if have := VulkanSafeString("x"); have != "x\x00" {
		t.Errorf("VulkanSafeString\nhave %q\nwant \"x\\x00\"", have)
	}
	have := dedup([]string{"a", "b", "a"})
	if len(have) != 2 || have[0] != "a" || have[1] != "b" {
		t.Errorf("dedup\nhave %v\nwant [a b]", have)
	}
}
