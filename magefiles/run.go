//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the soak driver with vkframes.toml, reloading it on change.
func (Run) Soak() error {
	mg.Deps(tidy)
	fmt.Println("Run soak driver...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "vkframes.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
