// Package warden runs reference tests: each test submits scene jobs, reads
// a resource back and compares one row of it with the expected bytes.
package warden

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/gfxring/engine/assets"
	"github.com/spaghettifunk/gfxring/engine/assets/loaders"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/scene"
	"github.com/spaghettifunk/gfxring/engine/systems"
)

type Results struct {
	Pass int
	Skip int
	Fail int

	Failures []Failure
}

type Failure struct {
	Scene  string
	Test   string
	Reason string
	// Have is the fetched row when the comparison itself failed.
	Have []byte
	// Dump is the path of the image written for the failure, if any.
	Dump string
}

func (r Results) String() string {
	return fmt.Sprintf("%d passed, %d skipped, %d failed", r.Pass, r.Skip, r.Fail)
}

// Harness runs one suite against scenes and data found under a work
// directory laid out as scenes/<name>.toml, reftests/<suite>.toml and
// data/.
type Harness struct {
	BasePath string
	Suite    *Suite
	// DumpDir receives a BMP of the image behind every failed image
	// expectation. Empty disables dumps.
	DumpDir string

	assets *assets.AssetManager
}

// RegisterLoaders teaches am to load scene descriptions and suites.
func RegisterLoaders(am *assets.AssetManager) {
	am.RegisterLoader(assets.AssetTypeScene, &loaders.ParsedLoader{Parse: func(b []byte) (interface{}, error) {
		return scene.ParseDescription(b)
	}})
	am.RegisterLoader(assets.AssetTypeSuite, &loaders.ParsedLoader{Parse: func(b []byte) (interface{}, error) {
		return ParseSuite(b)
	}})
}

// NewHarness loads the suite at suitePath, or reftests/<suitePath>.toml
// under basePath when suitePath is a bare name. A non-nil am caches the
// suite and scene descriptions; it must have the warden loaders
// registered.
func NewHarness(basePath, suitePath string, am *assets.AssetManager) (*Harness, error) {
	h := &Harness{BasePath: basePath, assets: am}
	if !strings.ContainsRune(suitePath, filepath.Separator) && filepath.Ext(suitePath) == "" {
		suitePath = filepath.Join(basePath, "reftests", suitePath+".toml")
	}
	if am != nil {
		v, err := am.Load(suitePath, assets.AssetTypeSuite)
		if err != nil {
			return nil, err
		}
		h.Suite = v.(*Suite)
	} else {
		s, err := LoadSuite(suitePath)
		if err != nil {
			return nil, err
		}
		h.Suite = s
	}
	if h.Suite.Name == "" {
		h.Suite.Name = strings.TrimSuffix(filepath.Base(suitePath), filepath.Ext(suitePath))
	}
	return h, nil
}

func (h *Harness) description(name string) (*scene.Description, error) {
	path := filepath.Join(h.BasePath, "scenes", name+".toml")
	if h.assets != nil {
		v, err := h.assets.Load(path, assets.AssetTypeScene)
		if err != nil {
			return nil, err
		}
		return v.(*scene.Description), nil
	}
	return scene.LoadDescription(path)
}

// Run executes every test of the suite on dev. Each scene is loaded once
// for all of its tests, in suite order, so later tests observe the effects
// of earlier ones.
func (h *Harness) Run(dev hal.Device, queue hal.Queue) Results {
	runID := uuid.New()
	core.LogInfo("Running suite %s (run %s)", h.Suite.Name, runID)

	var res Results
	for _, sceneName := range h.Suite.Scenes() {
		res.merge(h.runGroup(dev, queue, runID, sceneName))
	}
	core.LogInfo("Suite %s: %s", h.Suite.Name, res)
	return res
}

// Opener creates a device for one scene group. release is called once the
// group is done with it.
type Opener func() (dev hal.Device, queue hal.Queue, release func(), err error)

// RunParallel runs the scene groups on up to workers goroutines, each group
// on its own device from open.
func (h *Harness) RunParallel(open Opener, workers int) (Results, error) {
	js, err := systems.NewJobSystem(workers, 0)
	if err != nil {
		return Results{}, err
	}
	runID := uuid.New()
	core.LogInfo("Running suite %s (run %s) on %d workers", h.Suite.Name, runID, workers)

	var (
		mu  sync.Mutex
		res Results
	)
	for _, sceneName := range h.Suite.Scenes() {
		sceneName := sceneName
		err := js.Submit(systems.JobTask{
			Name: sceneName,
			OnStart: func() error {
				dev, queue, release, err := open()
				if err != nil {
					mu.Lock()
					res.merge(h.failGroup(sceneName, err))
					mu.Unlock()
					return err
				}
				defer release()
				r := h.runGroup(dev, queue, runID, sceneName)
				mu.Lock()
				res.merge(r)
				mu.Unlock()
				return nil
			},
		})
		if err != nil {
			_ = js.Shutdown()
			return res, err
		}
	}
	if err := js.Shutdown(); err != nil {
		return res, err
	}
	sort.SliceStable(res.Failures, func(i, j int) bool {
		return res.Failures[i].Scene < res.Failures[j].Scene
	})
	core.LogInfo("Suite %s: %s", h.Suite.Name, res)
	return res, nil
}

func (h *Harness) runGroup(dev hal.Device, queue hal.Queue, runID uuid.UUID, sceneName string) Results {
	core.LogInfo("Group %s", sceneName)
	desc, err := h.description(sceneName)
	if err != nil {
		return h.failGroup(sceneName, err)
	}
	s, err := scene.Load(dev, queue, desc, filepath.Join(h.BasePath, "data"))
	if err != nil {
		return h.failGroup(sceneName, err)
	}
	var res Results
	for _, t := range h.Suite.Group(sceneName) {
		h.runTest(&res, s, runID, t)
	}
	if err := s.Close(); err != nil {
		core.LogWarn("close scene %s: %s", sceneName, err)
	}
	return res
}

// failGroup fails every test of a scene that could not be loaded.
func (h *Harness) failGroup(sceneName string, err error) Results {
	var res Results
	for _, t := range h.Suite.Group(sceneName) {
		if t.Skip != "" {
			res.Skip++
			continue
		}
		res.fail(Failure{Scene: sceneName, Test: t.Name, Reason: err.Error()})
	}
	return res
}

func (h *Harness) runTest(res *Results, s *scene.Scene, runID uuid.UUID, t Test) {
	if t.Skip != "" {
		core.LogInfo("\tTest %s: SKIP (%s)", t.Name, t.Skip)
		res.Skip++
		return
	}
	f := Failure{Scene: t.Scene, Test: t.Name}
	if err := s.Run(t.Jobs...); err != nil {
		f.Reason = err.Error()
		res.fail(f)
		return
	}

	var (
		guard *scene.FetchGuard
		err   error
	)
	if t.Expect.Buffer != "" {
		guard, err = s.FetchBuffer(t.Expect.Buffer)
	} else {
		guard, err = s.FetchImage(t.Expect.Image)
	}
	if err != nil {
		f.Reason = err.Error()
		res.fail(f)
		return
	}
	defer guard.Close()

	want := t.Expect.bytes()
	have := guard.Row(t.Expect.Row)
	if have == nil {
		f.Reason = fmt.Sprintf("%s out of range (%d rows)", t.Expect.resource(), guard.Rows())
		res.fail(f)
		return
	}
	if bytes.Equal(have, want) {
		core.LogInfo("\tTest %s: PASS", t.Name)
		res.Pass++
		return
	}

	f.Reason = fmt.Sprintf("%s mismatch", t.Expect.resource())
	f.Have = append([]byte(nil), have...)
	if t.Expect.Image != "" && h.DumpDir != "" {
		path := filepath.Join(h.DumpDir, fmt.Sprintf("%s-%s-%s.bmp", runID, t.Scene, t.Name))
		if err := DumpBMP(path, guard, s.Images[t.Expect.Image].Desc.Format); err != nil {
			core.LogWarn("dump %s: %s", path, err)
		} else {
			f.Dump = path
		}
	}
	res.fail(f)
}

func (r *Results) merge(o Results) {
	r.Pass += o.Pass
	r.Skip += o.Skip
	r.Fail += o.Fail
	r.Failures = append(r.Failures, o.Failures...)
}

func (r *Results) fail(f Failure) {
	if f.Have != nil {
		core.LogError("\tTest %s/%s: FAIL %s: have %v", f.Scene, f.Test, f.Reason, f.Have)
	} else {
		core.LogError("\tTest %s/%s: FAIL %s", f.Scene, f.Test, f.Reason)
	}
	r.Fail++
	r.Failures = append(r.Failures, f)
}
