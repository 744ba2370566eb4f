/*
Headless soak driver for the frame manager. It renders frames against the
simulated GPU until interrupted, or for [sim] frames when that is set.

	vkframes -config vkframes.toml
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vkframes/engine"
	"github.com/spaghettifunk/vkframes/engine/core"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file, watched for changes")
	flag.Parse()

	engine, err := engine.New(*configPath)
	if err != nil {
		core.LogFatal("failed to create engine: %s", err)
	}

	if err := engine.Initialize(); err != nil {
		core.LogFatal("failed to initialize engine: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = engine.Shutdown()
	}()

	// run engine
	if err := engine.Run(); err != nil {
		core.LogFatal("engine stopped: %s", err)
	}
}
