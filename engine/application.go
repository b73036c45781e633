package engine

import (
	"github.com/spaghettifunk/gfxring/engine/core"
)

type ApplicationConfig struct {
	*core.Config
	// Print frame statistics every this many seconds; zero disables it.
	StatsInterval float64
}

// LoadApplicationConfig reads the TOML config at path, falling back to
// defaults for a missing file.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ApplicationConfig{Config: cfg, StatsInterval: 5}, nil
}
