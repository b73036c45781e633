package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type BackendType string

const (
	BackendSoftware BackendType = "software"
	BackendVulkan   BackendType = "vulkan"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position, if applicable.
	StartPosX uint32 `toml:"start_pos_x"`
	StartPosY uint32 `toml:"start_pos_y"`
	// Window starting size, if applicable.
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
}

type RendererConfig struct {
	Backend BackendType `toml:"backend"`
	// Number of frames the CPU may record ahead of the GPU.
	FramesInFlight int  `toml:"frames_in_flight"`
	VSync          bool `toml:"vsync"`
	Validation     bool `toml:"validation"`
	// Create ring fences unsignaled. The first use of every slot then
	// waits for nothing, since no submission has been made yet.
	UnsignaledFences bool `toml:"unsignaled_fences"`
}

type ReftestConfig struct {
	DataDir string `toml:"data_dir"`
	DumpDir string `toml:"dump_dir"`
}

type Config struct {
	LogLevel    LogLevel          `toml:"log_level"`
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Reftest     ReftestConfig     `toml:"reftest"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: LogLevelInfo,
		Application: ApplicationConfig{
			Name:        "gfxring",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Renderer: RendererConfig{
			Backend:        BackendVulkan,
			FramesInFlight: 3,
			VSync:          true,
		},
		Reftest: ReftestConfig{
			DataDir: "work",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. A missing file is
// not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		LogDebug("config file %s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("renderer.frames_in_flight = %d: %w", c.Renderer.FramesInFlight, ErrInvalidRingLength)
	}
	switch c.Renderer.Backend {
	case BackendSoftware, BackendVulkan:
	default:
		return fmt.Errorf("unknown renderer backend %q", c.Renderer.Backend)
	}
	return nil
}
