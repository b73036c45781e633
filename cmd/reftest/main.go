// Command reftest runs a reference test suite and exits with the number of
// failed tests. With -bench N it times each test's jobs instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/gfxring/engine/assets"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/platform"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
	"github.com/spaghettifunk/gfxring/engine/renderer/vulkan"
	"github.com/spaghettifunk/gfxring/engine/warden"
)

// Exit codes above this would wrap around to success.
const maxExitCode = 255

type options struct {
	suite    string
	dataDir  string
	backend  core.BackendType
	dumpDir  string
	jobs     int
	bench    int
	watch    bool
	validate bool
}

func main() {
	configPath := flag.String("config", "gfxring.toml", "TOML configuration file")
	suite := flag.String("suite", "local", "suite name under <data>/reftests, or a path to a suite file")
	dataDir := flag.String("data", "", "work directory holding scenes/, reftests/ and data/ (default from config)")
	backend := flag.String("backend", string(core.BackendSoftware), "backend to run on: software or vulkan")
	dumpDir := flag.String("dump", "", "directory for BMP dumps of failed image tests (default from config)")
	jobs := flag.Int("jobs", 1, "scene groups run in parallel, software backend only")
	bench := flag.Int("bench", 0, "time each test over N runs instead of checking results")
	watch := flag.Bool("watch", false, "re-run the suite whenever a file under the work directory changes")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("config: %s", err)
	}
	core.SetLogLevel(cfg.LogLevel)
	if *verbose {
		core.SetLogLevel(core.LogLevelDebug)
	}

	opts := options{
		suite:    *suite,
		dataDir:  cfg.Reftest.DataDir,
		backend:  core.BackendType(*backend),
		dumpDir:  cfg.Reftest.DumpDir,
		jobs:     *jobs,
		bench:    *bench,
		watch:    *watch,
		validate: cfg.Renderer.Validation,
	}
	if *dataDir != "" {
		opts.dataDir = *dataDir
	}
	if *dumpDir != "" {
		opts.dumpDir = *dumpDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	failed, err := run(ctx, opts)
	if err != nil {
		core.LogError(err.Error())
		os.Exit(maxExitCode)
	}
	os.Exit(min(failed, maxExitCode))
}

func run(ctx context.Context, opts options) (int, error) {
	am, err := assets.NewAssetManager()
	if err != nil {
		return 0, err
	}
	defer am.Close()
	warden.RegisterLoaders(am)

	open, closeBackend, err := opener(opts)
	if err != nil {
		return 0, err
	}
	defer closeBackend()

	once := func() (int, error) {
		h, err := warden.NewHarness(opts.dataDir, opts.suite, am)
		if err != nil {
			return 0, err
		}
		h.DumpDir = opts.dumpDir
		if opts.bench > 0 {
			return 0, runBench(h, open, opts.bench)
		}
		var res warden.Results
		if opts.jobs > 1 && opts.backend == core.BackendSoftware {
			res, err = h.RunParallel(open, opts.jobs)
			if err != nil {
				return 0, err
			}
		} else {
			dev, queue, release, err := open()
			if err != nil {
				return 0, err
			}
			res = h.Run(dev, queue)
			release()
		}
		report(res)
		return res.Fail, nil
	}

	failed, err := once()
	if !opts.watch {
		return failed, err
	}
	if err != nil {
		core.LogError(err.Error())
	}

	if err := am.Watch(opts.dataDir); err != nil {
		return 0, err
	}
	core.LogInfo("Watching %s for changes.", opts.dataDir)
	for {
		select {
		case <-ctx.Done():
			return failed, nil
		case e, ok := <-am.Changes():
			if !ok {
				return failed, nil
			}
			if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			settle(am.Changes(), 200*time.Millisecond)
			core.LogInfo("%s changed, re-running.", filepath.Base(e.Name))
			if failed, err = once(); err != nil {
				core.LogError(err.Error())
			}
		}
	}
}

// settle drains events until none arrive for quiet, so that an editor's
// burst of writes triggers a single run.
func settle(events <-chan fsnotify.Event, quiet time.Duration) {
	t := time.NewTimer(quiet)
	defer t.Stop()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
			if !t.Stop() {
				<-t.C
			}
			t.Reset(quiet)
		case <-t.C:
			return
		}
	}
}

// opener returns a device source for the chosen backend. A Vulkan device
// is created once and shared by every run; software devices are fresh per
// scene group.
func opener(opts options) (warden.Opener, func(), error) {
	switch opts.backend {
	case core.BackendSoftware:
		open := func() (hal.Device, hal.Queue, func(), error) {
			dev := software.NewDevice()
			return dev, dev.Queue(), func() {
				if v := dev.Stats().Violations; len(v) != 0 {
					core.LogWarn("software device recorded %d violations: %v", len(v), v)
				}
			}, nil
		}
		return open, func() {}, nil

	case core.BackendVulkan:
		events := core.NewEventBus()
		p, err := platform.New(events)
		if err != nil {
			return nil, nil, err
		}
		if err := p.StartupHeadless(); err != nil {
			return nil, nil, err
		}
		dev, release, err := vulkan.NewHeadless(p.VulkanProcAddr(), "reftest", opts.validate)
		if err != nil {
			_ = p.Shutdown()
			return nil, nil, err
		}
		open := func() (hal.Device, hal.Queue, func(), error) {
			return dev, dev.Queue(), func() {}, nil
		}
		return open, func() {
			release()
			_ = p.Shutdown()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
}

func runBench(h *warden.Harness, open warden.Opener, iterations int) error {
	dev, queue, release, err := open()
	if err != nil {
		return err
	}
	defer release()
	timings, err := h.Bench(dev, queue, iterations)
	if err != nil {
		return err
	}
	for _, tm := range timings {
		fmt.Println(tm)
	}
	return nil
}

func report(res warden.Results) {
	for _, f := range res.Failures {
		line := fmt.Sprintf("FAIL %s/%s: %s", f.Scene, f.Test, f.Reason)
		if f.Dump != "" {
			line += " (dump " + f.Dump + ")"
		}
		fmt.Fprintln(os.Stderr, line)
	}
	fmt.Printf("%s\n", res)
}
