package frame

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vkframes/engine/config"
	"github.com/spaghettifunk/vkframes/engine/core"
)

// NoImage is the present image index while no swapchain image is held.
const NoImage uint32 = 0xffffffff

// StageState tracks one of the two logical buffers (transfer, draw) through
// a frame. Idle and Retired are both valid starting points for the next frame.
type StageState int

const (
	StageIdle StageState = iota
	StageRecording
	StageSubmitted
	StageRetired
)

func (s StageState) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRecording:
		return "recording"
	case StageSubmitted:
		return "submitted"
	case StageRetired:
		return "retired"
	}
	return fmt.Sprintf("StageState(%d)", int(s))
}

type stage struct {
	name      string
	commands  *CommandBuffer
	state     StageState
	deletes   *DeleteList
	lastSeq   uint64
	submitted bool
}

type Option func(*Manager)

// WithConfig sizes the submission ring and the timestamp pool and bounds
// fence waits.
func WithConfig(cfg config.FrameConfig) Option {
	return func(m *Manager) {
		m.frameConfig = cfg
	}
}

// WithStatsCollector sets where UpdateGpuStats publishes resolved timings.
func WithStatsCollector(c StatsCollector) Option {
	return func(m *Manager) {
		m.stats = c
	}
}

// WithGpuStats sets whether profiling groups are recorded from the first
// frame on.
func WithGpuStats(enabled bool) Option {
	return func(m *Manager) {
		m.wantGpuStats = enabled
	}
}

// Manager owns per-frame command buffers, the submission ring, the deferred
// delete lists and the GPU timestamp scopes. It is driven by a single thread:
//
//	BeginFrame → Get*Commands / PushGroup / PopGroup → FlushCommands → (WaitForCommands)
//
// None of its methods are safe for concurrent use.
type Manager struct {
	device    Device
	swapchain Swapchain
	stats     StatsCollector

	frameConfig config.FrameConfig

	pool            *CommandPool
	ring            *SubmissionRing
	timestamps      *TimestampTracker
	timestampPeriod float64

	transfer stage
	draw     stage

	imageAvailable    Semaphore
	renderFinished    Semaphore
	presentImageIndex uint32

	wantGpuStats bool
	statsPending bool
	statsSeq     uint64
	statsFrame   uint64

	frameNumber             uint64
	submittedCommandBuffers int
	destroyed               bool
}

// New builds a manager on device. swapchain may be nil for offscreen use, in
// which case no image is ever acquired or presented.
func New(device Device, swapchain Swapchain, opts ...Option) (*Manager, error) {
	m := &Manager{
		device:            device,
		swapchain:         swapchain,
		frameConfig:       config.Default().Frame,
		presentImageIndex: NoImage,
		wantGpuStats:      true,
		transfer:          stage{name: "TransferCommands", deletes: NewDeleteList()},
		draw:              stage{name: "DrawCommands", deletes: NewDeleteList()},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.frameConfig.MaxConcurrentSubmits <= 0 {
		m.frameConfig.MaxConcurrentSubmits = config.DefaultMaxConcurrentSubmits
	}
	if m.frameConfig.MaxTimestampQueries <= 0 {
		m.frameConfig.MaxTimestampQueries = config.DefaultMaxTimestampQueries
	}

	pool, err := NewCommandPool(device)
	if err != nil {
		return nil, err
	}
	m.pool = pool

	ring, err := NewSubmissionRing(device, m.frameConfig.MaxConcurrentSubmits, m.frameConfig.FenceTimeout())
	if err != nil {
		m.Destroy()
		return nil, err
	}
	m.ring = ring

	if swapchain != nil {
		if m.imageAvailable, err = device.CreateSemaphore(); err != nil {
			m.Destroy()
			return nil, fmt.Errorf("failed to create image available semaphore: %w", err)
		}
		if m.renderFinished, err = device.CreateSemaphore(); err != nil {
			m.Destroy()
			return nil, fmt.Errorf("failed to create render finished semaphore: %w", err)
		}
	}

	var queries QueryPool
	m.timestampPeriod = device.TimestampPeriod()
	if m.timestampPeriod > 0 {
		queries, err = device.CreateTimestampPool(uint32(m.frameConfig.MaxTimestampQueries))
		switch {
		case errors.Is(err, core.ErrTimestampsUnsupported):
			core.LogWarn("GPU timings disabled: %s", err)
			queries = nil
		case err != nil:
			m.Destroy()
			return nil, fmt.Errorf("failed to create timestamp query pool: %w", err)
		}
	} else {
		core.LogWarn("GPU timings disabled: timestamp period is 0")
	}
	m.timestamps = NewTimestampTracker(queries, uint32(m.frameConfig.MaxTimestampQueries))
	m.timestamps.SetEnabled(m.wantGpuStats)

	core.LogDebug("command buffer manager created: %d submit slots, %d timestamp queries", ring.Capacity(), m.frameConfig.MaxTimestampQueries)
	return m, nil
}

// BeginFrame resets the frame-local profiling state, retires whatever already
// finished and acquires the next swapchain image, blocking until one is
// available. core.ErrSwapchainBooting means the swapchain must be recreated;
// the frame can still be recorded and flushed, it just is not presented.
// core.ErrUnbalancedGroups reports groups the previous frame left open; they
// are dropped and the new frame is started anyway.
func (m *Manager) BeginFrame() error {
	var leaked error
	if depth := m.timestamps.Depth(); depth > 0 {
		leaked = fmt.Errorf("frame %d ended with %d open groups: %w", m.frameNumber, depth, core.ErrUnbalancedGroups)
		core.LogError(leaked.Error())
	}

	m.frameNumber++
	m.submittedCommandBuffers = 0

	if m.statsPending {
		core.LogDebug("discarding unread GPU timings of frame %d", m.statsFrame)
		m.statsPending = false
	}
	m.timestamps.BeginFrame()
	m.timestamps.SetEnabled(m.wantGpuStats)

	if err := m.ring.Poll(); err != nil {
		return err
	}
	if err := m.acquireImage(); err != nil {
		return err
	}
	return leaked
}

func (m *Manager) acquireImage() error {
	if m.swapchain == nil || m.presentImageIndex != NoImage {
		return nil
	}
	index, err := m.swapchain.AcquireImage(m.imageAvailable)
	if err != nil {
		m.presentImageIndex = NoImage
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogInfo("swapchain out of date, frame %d will not be presented", m.frameNumber)
			return err
		}
		err = fmt.Errorf("failed to acquire swapchain image: %w", err)
		core.LogError(err.Error())
		return err
	}
	m.presentImageIndex = index
	return nil
}

// GetTransferCommands returns the upload buffer of the current frame,
// allocating it and beginning recording on first use. The handle stays valid
// until the next FlushCommands.
func (m *Manager) GetTransferCommands() (*CommandBuffer, error) {
	return m.commandsFor(&m.transfer)
}

// GetDrawCommands returns the draw buffer of the current frame, allocating it
// and beginning recording on first use. The handle stays valid until the next
// FlushCommands that is not upload-only.
func (m *Manager) GetDrawCommands() (*CommandBuffer, error) {
	return m.commandsFor(&m.draw)
}

func (m *Manager) commandsFor(st *stage) (*CommandBuffer, error) {
	if st.commands != nil {
		return st.commands, nil
	}
	cb, err := m.pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", st.name, core.ErrAllocationFailed, err)
	}
	cb.SetDebugName(fmt.Sprintf("%s[%d]", st.name, m.frameNumber))
	if err := cb.Begin(); err != nil {
		cb.Destroy()
		return nil, fmt.Errorf("%s: %w: %w", st.name, core.ErrAllocationFailed, err)
	}
	st.commands = cb
	st.state = StageRecording
	return cb, nil
}

// FlushCommands submits the recorded transfer buffer, then (unless
// uploadOnly) the draw buffer, which waits on the transfer on the GPU. Each
// submission takes a ring slot, blocking while the ring is full. The current
// delete list of each submitted stage is handed to that submission and
// destroyed once it retires.
//
// lastsubmit marks the end of the frame: the final submission waits for the
// acquired image, signals render-finished and the image is presented. finish
// blocks until the GPU completed the flushed work.
func (m *Manager) FlushCommands(finish, lastsubmit, uploadOnly bool) error {
	if !uploadOnly && !m.timestamps.Balanced() {
		err := fmt.Errorf("flush of frame %d with %d open groups: %w", m.frameNumber, m.timestamps.Depth(), core.ErrUnbalancedGroups)
		core.LogError(err.Error())
		return err
	}
	withDraw := !uploadOnly && m.draw.commands != nil
	if m.transfer.commands == nil && !withDraw {
		err := fmt.Errorf("frame %d (upload only: %t): %w", m.frameNumber, uploadOnly, core.ErrNoRecordedWork)
		core.LogError(err.Error())
		return err
	}

	present := !uploadOnly && lastsubmit && m.swapchain != nil && m.presentImageIndex != NoImage
	var lastSeq uint64

	if m.transfer.commands != nil {
		final := !uploadOnly && !withDraw && lastsubmit
		seq, err := m.submit(&m.transfer, final, final && present)
		if err != nil {
			return err
		}
		lastSeq = seq
	}

	if withDraw {
		hasTimings := m.timestamps.Used() > 0
		seq, err := m.submit(&m.draw, lastsubmit, present)
		if err != nil {
			return err
		}
		if hasTimings {
			m.statsPending = true
			m.statsSeq = seq
			m.statsFrame = m.frameNumber
		}
		lastSeq = seq
	}

	var presentErr error
	if present {
		presentErr = m.present()
		if presentErr != nil && !errors.Is(presentErr, core.ErrSwapchainBooting) {
			return presentErr
		}
	}

	if finish {
		if err := m.ring.WaitFor(lastSeq); err != nil {
			return err
		}
	}
	return presentErr
}

// submit ends st's buffer and queues it. final submissions do not signal the
// chain semaphore; presenting ones also wait for the acquired image and
// signal render-finished.
func (m *Manager) submit(st *stage, final, presenting bool) (uint64, error) {
	cb := st.commands
	if err := cb.End(); err != nil {
		return 0, err
	}

	slot, seq, err := m.ring.Acquire()
	if err != nil {
		return 0, err
	}

	info := SubmitInfo{
		Commands: []Commands{cb.Handle()},
		Fence:    slot.Fence,
	}
	if chain := m.ring.Chain(); chain != nil {
		info.Waits = append(info.Waits, SemaphoreWait{Semaphore: chain, Stage: StageTransfer})
	}
	if presenting {
		info.Waits = append(info.Waits, SemaphoreWait{Semaphore: m.imageAvailable, Stage: StageColorAttachmentOutput})
		info.Signals = append(info.Signals, m.renderFinished)
	}
	signalChain := !final
	if signalChain {
		info.Signals = append(info.Signals, slot.Semaphore)
	}

	if err := m.device.Submit(info); err != nil {
		if !core.IsFatal(err) {
			err = fmt.Errorf("%w: %w", core.ErrSubmitFailed, err)
		}
		err = fmt.Errorf("%s submission %d: %w", cb.Name(), seq, err)
		core.LogError(err.Error())
		return 0, err
	}

	cb.UpdateSubmitted()
	deletes := st.deletes
	deletes.AddCommandBuffer(cb)
	retire := func() {
		deletes.Destroy()
		if st.submitted && st.lastSeq == seq && st.state == StageSubmitted {
			st.state = StageRetired
		}
	}
	if err := m.ring.Commit(slot, seq, signalChain, retire); err != nil {
		return 0, err
	}

	st.commands = nil
	st.deletes = NewDeleteList()
	st.state = StageSubmitted
	st.lastSeq = seq
	st.submitted = true
	m.submittedCommandBuffers++
	return seq, nil
}

func (m *Manager) present() error {
	index := m.presentImageIndex
	m.presentImageIndex = NoImage
	if err := m.swapchain.Present(index, m.renderFinished); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogInfo("swapchain out of date while presenting image %d", index)
			return err
		}
		err = fmt.Errorf("failed to present image %d: %w", index, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// WaitForCommands blocks until outstanding GPU work retires and destroys the
// delete lists that became safe to release.
//
// finish=true drains every outstanding submission; it is what teardown and
// resize use. finish=false waits only for the latest submission of the path
// (transfer when uploadOnly, otherwise the latest of either) and then starts
// acquiring the next frame's image.
func (m *Manager) WaitForCommands(finish, uploadOnly bool) error {
	if finish {
		if err := m.ring.Drain(); err != nil {
			return err
		}
		return m.DeleteFrameObjects(uploadOnly)
	}

	if seq, ok := m.latestSubmission(uploadOnly); ok {
		if err := m.ring.WaitFor(seq); err != nil {
			return err
		}
	}
	if err := m.DeleteFrameObjects(uploadOnly); err != nil {
		return err
	}
	if uploadOnly {
		return nil
	}
	return m.acquireImage()
}

func (m *Manager) latestSubmission(uploadOnly bool) (uint64, bool) {
	seq, ok := m.transfer.lastSeq, m.transfer.submitted
	if uploadOnly {
		return seq, ok
	}
	if m.draw.submitted && (!ok || m.draw.lastSeq > seq) {
		seq, ok = m.draw.lastSeq, true
	}
	return seq, ok
}

// DeleteFrameObjects retires every submission whose fence has signaled, which
// destroys the delete lists attached to them. When nothing is in flight and
// no buffer is being recorded, the current lists of the path (transfer, plus
// draw unless uploadOnly) cannot be referenced by the GPU either and are
// destroyed too.
func (m *Manager) DeleteFrameObjects(uploadOnly bool) error {
	if err := m.ring.Poll(); err != nil {
		return err
	}
	if m.ring.Outstanding() > 0 || m.transfer.state == StageRecording || m.draw.state == StageRecording {
		return nil
	}
	m.transfer.deletes.Destroy()
	if !uploadOnly {
		m.draw.deletes.Destroy()
	}
	return nil
}

// PushGroup opens a named GPU timing scope on the draw buffer. Scopes past
// the query pool capacity are silently left out of the results.
func (m *Manager) PushGroup(name string) error {
	var cmds Commands
	if m.timestamps.Enabled() {
		cb, err := m.GetDrawCommands()
		if err != nil {
			return err
		}
		cmds = cb.Handle()
	}
	m.timestamps.Push(name, cmds)
	return nil
}

// PopGroup closes the innermost scope. Popping with no open scope returns
// core.ErrUnbalancedGroups.
func (m *Manager) PopGroup() error {
	var cmds Commands
	if m.draw.commands != nil {
		cmds = m.draw.commands.Handle()
	}
	return m.timestamps.Pop(cmds)
}

// EnableGpuStats turns profiling groups on or off from the next BeginFrame.
func (m *Manager) EnableGpuStats(enabled bool) {
	m.wantGpuStats = enabled
}

// UpdateGpuStats publishes the timings of the last flushed frame once its
// draw submission retired. Until then it returns core.ErrStatsNotReady and
// reads nothing. It is a no-op when the frame recorded no scopes.
func (m *Manager) UpdateGpuStats() error {
	if !m.statsPending {
		return nil
	}
	if !m.ring.Retired(m.statsSeq) {
		if err := m.ring.Poll(); err != nil {
			return err
		}
		if !m.ring.Retired(m.statsSeq) {
			return fmt.Errorf("frame %d: %w", m.statsFrame, core.ErrStatsNotReady)
		}
	}

	m.statsPending = false
	timings, err := m.timestamps.Resolve(m.timestampPeriod)
	if err != nil {
		core.LogWarn("GPU timings of frame %d lost: %s", m.statsFrame, err)
		return err
	}
	if m.stats != nil {
		m.stats.PublishGpuTimings(m.statsFrame, timings)
	}
	return nil
}

// Destroy drains the GPU and releases everything in reverse construction
// order: delete lists and command buffers, the timestamp pool, the swapchain
// semaphores, the submission ring, the command pool.
func (m *Manager) Destroy() error {
	if m.destroyed {
		return nil
	}
	m.destroyed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.ring != nil {
		keep(m.ring.Drain())
	}
	keep(m.device.WaitIdle())

	for _, st := range []*stage{&m.transfer, &m.draw} {
		if st.commands != nil {
			st.commands.Destroy()
			st.commands = nil
		}
		st.deletes.Destroy()
		st.state = StageIdle
	}

	if m.timestamps != nil {
		m.timestamps.Destroy()
	}
	if m.renderFinished != nil {
		m.renderFinished.Destroy()
		m.renderFinished = nil
	}
	if m.imageAvailable != nil {
		m.imageAvailable.Destroy()
		m.imageAvailable = nil
	}
	if m.ring != nil {
		keep(m.ring.Destroy())
	}
	if m.pool != nil {
		m.pool.Destroy()
	}
	core.LogDebug("command buffer manager destroyed after %d frames", m.frameNumber)
	return firstErr
}

// Swapchain returns the swapchain the manager acquires from, or nil.
func (m *Manager) Swapchain() Swapchain {
	return m.swapchain
}

// PresentImageIndex is the currently held swapchain image, NoImage if none.
func (m *Manager) PresentImageIndex() uint32 {
	return m.presentImageIndex
}

// RenderFinishedSemaphore is signaled by the last submission of a frame.
func (m *Manager) RenderFinishedSemaphore() Semaphore {
	return m.renderFinished
}

func (m *Manager) TransferState() StageState { return m.transfer.state }
func (m *Manager) DrawState() StageState     { return m.draw.state }

// TransferDeleteList collects resources released on the upload path this
// frame.
func (m *Manager) TransferDeleteList() *DeleteList { return m.transfer.deletes }

// DrawDeleteList collects resources released on the draw path this frame.
func (m *Manager) DrawDeleteList() *DeleteList { return m.draw.deletes }

// Outstanding is the number of submissions in flight.
func (m *Manager) Outstanding() int { return m.ring.Outstanding() }

func (m *Manager) FrameNumber() uint64 { return m.frameNumber }

// SubmittedCommandBuffers counts buffers submitted since BeginFrame.
func (m *Manager) SubmittedCommandBuffers() int { return m.submittedCommandBuffers }

// GroupDepth is the number of open profiling groups.
func (m *Manager) GroupDepth() int { return m.timestamps.Depth() }
