//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the windowed demo.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", "."), withStream())
	return err
}

// Runs the reftest suite named by $SUITE (default "local") on $BACKEND
// (default "software").
func (Run) Reftest() error {
	suite := envOr("SUITE", "local")
	backend := envOr("BACKEND", "software")
	_, err := executeCmd("go", withArgs("run", "./cmd/reftest", "-suite", suite, "-backend", backend), withStream())
	return err
}

// Times the suite named by $SUITE over $RUNS iterations (default 10).
func (Run) Bench() error {
	suite := envOr("SUITE", "local")
	backend := envOr("BACKEND", "software")
	runs := envOr("RUNS", "10")
	_, err := executeCmd("go", withArgs("run", "./cmd/reftest", "-suite", suite, "-backend", backend, "-bench", runs), withStream())
	return err
}

// Runs the unit tests.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
