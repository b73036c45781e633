//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the windowed demo into bin/.
func (Build) Engine() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/gfxring", "."), withStream())
	return err
}

// Builds the reftest harness into bin/.
func (Build) Reftest() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/reftest", "./cmd/reftest"), withStream())
	return err
}

// Builds everything.
func (Build) All() {
	mg.SerialDeps(Build.Engine, Build.Reftest)
}
