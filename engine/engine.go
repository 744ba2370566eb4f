package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vkframes/engine/config"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
	"github.com/spaghettifunk/vkframes/engine/renderer/simgpu"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const (
	// Simulated GPU ticks recorded per frame.
	uploadWork = 200
	shadowWork = 300
	sceneWork  = 900

	// Frames between two blocking stats reads.
	statsInterval = 60
	// Every how many frames a staging buffer is retired through the delete list.
	stagingInterval = 4
)

// Engine drives the frame manager against the simulated GPU in a headless
// loop. It records a small upload and a nested draw every frame, so fence
// backpressure, deferred deletion and timestamp profiling all get exercised.
type Engine struct {
	currentStage Stage
	configPath   string
	config       config.Config

	device    *simgpu.Device
	swapchain *simgpu.Swapchain
	manager   *frame.Manager
	stats     *core.GpuStats
	watcher   *config.Watcher
	reloads   chan config.Config

	clock    *core.Clock
	lastTime time.Duration
	frames   uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New loads the configuration at configPath. An empty path runs with the
// defaults and disables hot reload.
func New(configPath string) (*Engine, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			err = fmt.Errorf("failed to load config %s: %w", configPath, err)
			core.LogError(err.Error())
			return nil, err
		}
		cfg = loaded
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("unknown log level %q, keeping the current one", cfg.Log.Level)
	}

	return &Engine{
		currentStage: EngineStageBootComplete,
		configPath:   configPath,
		config:       cfg,
		stats:        core.NewGpuStats(),
		reloads:      make(chan config.Config, 1),
		clock:        core.NewClock(),
		stop:         make(chan struct{}),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	e.device = simgpu.New(simgpu.FromConfig(e.config.Sim)...)
	e.swapchain = simgpu.NewSwapchain(e.device, e.config.Sim.Images)

	m, err := frame.New(e.device, e.swapchain,
		frame.WithConfig(e.config.Frame),
		frame.WithStatsCollector(e.stats),
		frame.WithGpuStats(e.config.Profiling.Enabled),
	)
	if err != nil {
		e.device.Close()
		return err
	}
	e.manager = m

	if e.configPath != "" {
		w, err := config.Watch(e.configPath, e.onConfigChanged)
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("Engine initialized: %d images, %d submissions in flight, profiling %t",
		e.config.Sim.Images, e.config.Frame.MaxConcurrentSubmits, e.config.Profiling.Enabled)
	return nil
}

// onConfigChanged runs on the watcher goroutine. Only the latest pending
// configuration is kept.
func (e *Engine) onConfigChanged(cfg config.Config) {
	for {
		select {
		case e.reloads <- cfg:
			return
		default:
		}
		select {
		case <-e.reloads:
		default:
		}
	}
}

func (e *Engine) applyConfig(cfg config.Config) {
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("unknown log level %q, keeping the current one", cfg.Log.Level)
	}
	if cfg.Profiling.Enabled != e.config.Profiling.Enabled {
		e.manager.EnableGpuStats(cfg.Profiling.Enabled)
		core.LogInfo("GPU profiling enabled: %t", cfg.Profiling.Enabled)
	}
	if cfg.Frame != e.config.Frame || cfg.Sim != e.config.Sim {
		core.LogWarn("[frame] and [sim] changes take effect after a restart")
		cfg.Frame = e.config.Frame
		cfg.Sim = e.config.Sim
	}
	e.config = cfg
}

// Run renders frames until Shutdown is called, the configured frame count is
// reached or a fatal error occurs. Resources are released before it returns.
func (e *Engine) Run() (err error) {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	defer func() {
		if cerr := e.cleanup(); err == nil {
			err = cerr
		}
	}()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var runningTime time.Duration

	for {
		select {
		case <-e.stop:
			return nil
		case cfg := <-e.reloads:
			e.applyConfig(cfg)
		default:
		}
		if e.config.Sim.Frames > 0 && e.frames >= uint64(e.config.Sim.Frames) {
			return nil
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.drawFrame(); err != nil {
			core.LogError("Frame %d failed, shutting down: %s", e.manager.FrameNumber(), err)
			return err
		}
		e.frames++

		core.MetricsUpdate(delta.Seconds())
		runningTime += delta
		if runningTime >= time.Second {
			fps, ms := core.MetricsFrame()
			core.LogDebug("%.0f fps, %.3f ms/frame, %d in flight", fps, ms, e.manager.Outstanding())
			runningTime = 0
		}

		// Update last time
		e.lastTime = currentTime
	}
}

func (e *Engine) drawFrame() error {
	m := e.manager

	if err := m.BeginFrame(); err != nil {
		if !errors.Is(err, core.ErrSwapchainBooting) {
			return err
		}
		e.swapchain.Recreate()
	}

	// Upload.
	upload, err := m.GetTransferCommands()
	if err != nil {
		return err
	}
	record(upload, uploadWork)
	if m.FrameNumber()%stagingInterval == 0 {
		m.TransferDeleteList().AddBuffer(simgpu.NewObject(nil, "staging", 64<<10))
	}

	// Draw.
	if err := m.PushGroup("frame"); err != nil {
		return err
	}
	if err := e.drawGroup("shadows", shadowWork); err != nil {
		return err
	}
	if err := e.drawGroup("scene", sceneWork); err != nil {
		return err
	}
	if err := m.PopGroup(); err != nil {
		return err
	}

	if err := m.FlushCommands(false, true, false); err != nil && !softError(err) {
		return err
	}
	if err := m.DeleteFrameObjects(false); err != nil {
		return err
	}

	if m.FrameNumber()%statsInterval == 0 {
		return e.readStats(true)
	}
	return e.readStats(false)
}

func (e *Engine) drawGroup(name string, work uint64) error {
	if err := e.manager.PushGroup(name); err != nil {
		return err
	}
	cb, err := e.manager.GetDrawCommands()
	if err != nil {
		return err
	}
	record(cb, work)
	return e.manager.PopGroup()
}

// readStats publishes the timings of the last profiled frame. With wait set
// it blocks on that frame's submission first and logs the result.
func (e *Engine) readStats(wait bool) error {
	if wait {
		if err := e.manager.WaitForCommands(false, false); err != nil && !softError(err) {
			return err
		}
	}
	if err := e.manager.UpdateGpuStats(); err != nil {
		if errors.Is(err, core.ErrStatsNotReady) {
			return nil
		}
		return err
	}
	if wait && e.stats.Published() > 0 {
		core.LogInfo("GPU %s", e.stats.String())
	}
	return nil
}

func record(cb *frame.CommandBuffer, ticks uint64) {
	if c, ok := cb.Handle().(*simgpu.Commands); ok {
		c.Work(ticks)
	}
}

func softError(err error) bool {
	return errors.Is(err, core.ErrSwapchainBooting)
}

func (e *Engine) cleanup() error {
	e.currentStage = EngineStageShuttingDown

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("failed to stop config watcher: %s", err)
		}
	}

	var err error
	if e.manager != nil {
		if werr := e.manager.WaitForCommands(true, false); werr != nil && !softError(werr) && !core.IsFatal(werr) {
			core.LogWarn("failed to drain submissions: %s", werr)
		}
		if serr := e.manager.UpdateGpuStats(); serr == nil && e.stats.Published() > 0 {
			core.LogInfo("GPU %s", e.stats.String())
		}
		err = e.manager.Destroy()
	}
	if e.device != nil {
		e.device.Close()
	}

	core.LogInfo("Engine stopped after %d frames", e.frames)
	return err
}

// Shutdown asks Run to stop after the current frame. It is safe to call from
// any goroutine and more than once.
func (e *Engine) Shutdown() error {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	return nil
}

// Frames is the number of frames rendered so far.
func (e *Engine) Frames() uint64 {
	return e.frames
}

// Stats returns the collector the frame manager publishes GPU timings to.
func (e *Engine) Stats() *core.GpuStats {
	return e.stats
}
