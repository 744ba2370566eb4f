//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the soak driver into bin/vkframes.
func (Build) Driver() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/vkframes", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the unit tests of every package with the race detector.
func Test() error {
	if _, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go vet over the module.
func Vet() error {
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}
