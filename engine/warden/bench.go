package warden

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/scene"
)

// Timing is the cost of running one test's jobs to completion. Skipped is
// set instead of the durations when the test could not run.
type Timing struct {
	Scene      string
	Test       string
	Iterations int
	Min        time.Duration
	Mean       time.Duration
	Max        time.Duration
	Skipped    string
}

func (t Timing) String() string {
	if t.Skipped != "" {
		return fmt.Sprintf("%s/%s: skipped (%s)", t.Scene, t.Test, t.Skipped)
	}
	return fmt.Sprintf("%s/%s: %d runs, mean %s, min %s, max %s", t.Scene, t.Test, t.Iterations, t.Mean, t.Min, t.Max)
}

// Bench times every test of the suite on dev. Each timed run submits the
// test's jobs and waits for the device to go idle. The scene's init
// command buffer goes out in an untimed warm-up run. Expectations are not
// checked.
func (h *Harness) Bench(dev hal.Device, queue hal.Queue, iterations int) ([]Timing, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("bench needs at least one iteration, have %d", iterations)
	}
	runID := uuid.New()
	core.LogInfo("Benching suite %s (run %s), %d iterations", h.Suite.Name, runID, iterations)

	var out []Timing
	for _, sceneName := range h.Suite.Scenes() {
		out = append(out, h.benchGroup(dev, queue, sceneName, iterations)...)
	}
	return out, nil
}

func (h *Harness) benchGroup(dev hal.Device, queue hal.Queue, sceneName string, iterations int) []Timing {
	tests := h.Suite.Group(sceneName)
	skipAll := func(reason string) []Timing {
		out := make([]Timing, 0, len(tests))
		for _, t := range tests {
			out = append(out, Timing{Scene: sceneName, Test: t.Name, Skipped: reason})
		}
		return out
	}

	desc, err := h.description(sceneName)
	if err != nil {
		core.LogWarn("bench scene %s: %s", sceneName, err)
		return skipAll(err.Error())
	}
	s, err := scene.Load(dev, queue, desc, filepath.Join(h.BasePath, "data"))
	if err != nil {
		core.LogWarn("bench scene %s: %s", sceneName, err)
		return skipAll(err.Error())
	}
	defer func() {
		if err := s.Close(); err != nil {
			core.LogWarn("close scene %s: %s", sceneName, err)
		}
	}()

	out := make([]Timing, 0, len(tests))
	for _, t := range tests {
		tm := Timing{Scene: sceneName, Test: t.Name}
		if t.Skip != "" {
			tm.Skipped = t.Skip
		} else if err := benchTest(dev, s, t.Jobs, iterations, &tm); err != nil {
			tm.Skipped = err.Error()
		}
		if tm.Skipped != "" {
			core.LogWarn("\t%s", tm)
		} else {
			core.LogInfo("\t%s", tm)
		}
		out = append(out, tm)
	}
	return out
}

func benchTest(dev hal.Device, s *scene.Scene, jobs []string, iterations int, tm *Timing) error {
	runOnce := func() (time.Duration, error) {
		start := time.Now()
		if err := s.Run(jobs...); err != nil {
			return 0, err
		}
		if err := dev.WaitIdle(); err != nil {
			return 0, err
		}
		return time.Since(start), nil
	}

	if s.InitPending() {
		if _, err := runOnce(); err != nil {
			return err
		}
	}
	var total time.Duration
	for i := 0; i < iterations; i++ {
		d, err := runOnce()
		if err != nil {
			return err
		}
		if i == 0 || d < tm.Min {
			tm.Min = d
		}
		if d > tm.Max {
			tm.Max = d
		}
		total += d
	}
	tm.Iterations = iterations
	tm.Mean = total / time.Duration(iterations)
	return nil
}
