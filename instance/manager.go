// File: instance/manager.go
// Author: momentics <momentics@gmail.com>
//
// Manager is the instance manager: it lays out shared
// memory, builds every configured channel and wires the stack/link/
// heartbeat/dispatch middleware on top of the managed ones, runs the
// 10 ms periodic tick, and drives the fair-budgeted Rx path from
// either the deferred RTOS task or an explicit poll.

package instance

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/picc-ipc/affinity"
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/bufpool"
	"github.com/momentics/picc-ipc/channel"
	"github.com/momentics/picc-ipc/control"
	"github.com/momentics/picc-ipc/dispatch"
	"github.com/momentics/picc-ipc/heartbeat"
	"github.com/momentics/picc-ipc/link"
	"github.com/momentics/picc-ipc/shm"
	"github.com/momentics/picc-ipc/stack"
	"github.com/momentics/picc-ipc/trace"
)

// channelRuntime bundles one channel's transport object with whatever
// messaging middleware was configured on top of it.
type channelRuntime struct {
	spec   ChannelSpec
	ch     *channel.Channel
	framer *stack.Framer
	link   *link.Link
	hb     *heartbeat.Monitor
}

// Manager is one peer's view of an IPC instance.
type Manager struct {
	cfg    Config
	global *Global

	runtimes []*channelRuntime
	byID     map[int]*channelRuntime

	dispatch *dispatch.Dispatcher

	doorbell apicore.Doorbell
	bridge   apicore.Bridge

	errs     *trace.Recorder
	cfgStore *control.ConfigStore
	metrics  *control.MetricsRegistry
	prom     *control.PromMetrics
	debug    *control.DebugProbes
	registry *prometheus.Registry

	primaryLinkID int

	stopTick chan struct{}
	tickWG   sync.WaitGroup
}

// NewManager lays out localMem/remoteMem per cfg.Channels and builds
// every channel, wiring the messaging middleware on managed channels
// that request it. Both slices must be at least as large as the total
// PlanLayout footprint and must be symmetric mirrors of one another.
func NewManager(cfg Config, localMem, remoteMem []byte, doorbell apicore.Doorbell, bridge apicore.Bridge) (*Manager, error) {
	total, perChannel := PlanLayout(cfg.Channels)
	if len(localMem) < total || len(remoteMem) < total {
		return nil, apicore.New(apicore.NoMem, "instance backing memory too small").
			WithContext("need", total)
	}

	m := &Manager{
		cfg:           cfg,
		global:        newGlobal(localMem[:GlobalSize], remoteMem[:GlobalSize]),
		byID:          make(map[int]*channelRuntime, len(cfg.Channels)),
		dispatch:      dispatch.New(),
		doorbell:      doorbell,
		bridge:        bridge,
		errs:          trace.NewRecorder(cfg.TraceCapacity),
		cfgStore:      control.NewConfigStore(),
		metrics:       control.NewMetricsRegistry(),
		debug:         control.NewDebugProbes(),
		registry:      prometheus.NewRegistry(),
		primaryLinkID: -1,
	}
	m.prom = control.NewPromMetrics(m.registry)
	control.RegisterPlatformProbes(m.debug)
	m.debug.RegisterProbe("errors.count", func() any { return m.errs.Count() })
	m.cfgStore.SetConfig(map[string]any{
		"tick_period_ms":      cfg.tickPeriod().Milliseconds(),
		"heartbeat_period_ms": cfg.heartbeatPeriod().Milliseconds(),
		"poll_budget":         cfg.pollBudget(),
	})

	for i, spec := range cfg.Channels {
		cl := perChannel[i]
		localWindow := localMem[cl.Offset : cl.Offset+cl.Size]
		remoteWindow := remoteMem[cl.Offset : cl.Offset+cl.Size]

		rt, err := m.buildChannel(spec, localWindow, remoteWindow)
		if err != nil {
			m.teardown()
			return nil, err
		}
		m.runtimes = append(m.runtimes, rt)
		m.byID[spec.ID] = rt
	}
	return m, nil
}

func (m *Manager) buildChannel(spec ChannelSpec, localWindow, remoteWindow []byte) (*channelRuntime, error) {
	switch spec.Kind {
	case apicore.ChannelManaged:
		return m.buildManaged(spec, localWindow, remoteWindow)
	case apicore.ChannelUnmanaged:
		return m.buildUnmanaged(spec, localWindow, remoteWindow)
	default:
		return nil, apicore.New(apicore.Inval, "unknown channel kind in config")
	}
}

func (m *Manager) buildManaged(spec ChannelSpec, localWindow, remoteWindow []byte) (*channelRuntime, error) {
	bdCap := spec.Managed.BDQueueCapacity
	bdRingSize := shm.RingSize(bufpool.BDSize, bdCap)

	localRing, err := shm.NewRing(localWindow[:bdRingSize], bufpool.BDSize, bdCap)
	if err != nil {
		return nil, err
	}
	remoteRing, err := shm.NewRing(remoteWindow[:bdRingSize], bufpool.BDSize, bdCap)
	if err != nil {
		return nil, err
	}
	q, err := shm.NewQueue(localRing, remoteRing, shm.KindChannel)
	if err != nil {
		return nil, err
	}
	if err := q.Init(); err != nil {
		return nil, err
	}

	poolOff := bdRingSize
	pools := make([]*bufpool.Pool, 0, len(spec.Managed.Pools))
	for idx, ps := range spec.Managed.Pools {
		l := bufpool.PlanLayout(ps.NumBufs, ps.BufSize)
		lSub := localWindow[poolOff : poolOff+l.Footprint()]
		rSub := remoteWindow[poolOff : poolOff+l.Footprint()]
		p, err := bufpool.Init(uint16(idx+1), ps.BufSize, ps.NumBufs, lSub, rSub, l)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
		poolOff += l.Footprint()
	}
	localRing.MarkInitDone()

	var ch *channel.Managed
	var fr *stack.Framer
	onRx := func(buf []byte) {
		if fr != nil {
			fr.ProcessRx(buf)
		}
		if ch != nil {
			if err := ch.ReleaseRxBuffer(buf); err != nil {
				m.recordError(err)
			}
		}
	}
	ch, err = channel.NewManaged(spec.ID, pools, q, onRx)
	if err != nil {
		return nil, err
	}
	ch.SetReadyCheck(m.IsRemoteReady)

	maxFrame := spec.MaxFrameSize
	if maxFrame <= 0 {
		return nil, apicore.New(apicore.Inval, "managed channel requires a positive MaxFrameSize to run a framer")
	}

	rtr := &channelRouter{mgr: m, dsp: m.dispatch}
	fr = stack.NewFramer(ch, rtr, maxFrame, spec.CRCEnabled)
	rtr.framer = fr

	rt := &channelRuntime{spec: spec, ch: channel.NewManagedChannel(ch), framer: fr}

	if spec.Link != nil {
		lk := link.New(spec.Link.LocalID, spec.Link.RemoteID, spec.Link.Role, spec.Link.Primary, fr, spec.Link.OnStateChange)
		rtr.link = lk
		rt.link = lk
		if spec.Link.Primary {
			m.primaryLinkID = spec.ID
		}
	}
	if spec.Heartbeat {
		chID := spec.ID
		userCb := spec.OnHeartbeatTimeout
		hb := heartbeat.NewMonitor(fr, func() {
			if userCb != nil {
				userCb()
			}
			m.onHeartbeatTimeout(chID)
		})
		rtr.hb = hb
		rt.hb = hb
	}
	return rt, nil
}

func (m *Manager) buildUnmanaged(spec ChannelSpec, localWindow, remoteWindow []byte) (*channelRuntime, error) {
	u, err := channel.NewUnmanaged(spec.ID, localWindow, remoteWindow, spec.Unmanaged.PayloadSize, spec.Unmanaged.OnRx)
	if err != nil {
		return nil, err
	}
	if err := u.Init(); err != nil {
		return nil, err
	}
	u.MarkInitDone()
	return &channelRuntime{spec: spec, ch: channel.NewUnmanagedChannel(u)}, nil
}

// onHeartbeatTimeout applies application-layer policy:
// only the primary link's timeout may push the link state back to
// CONNECTING/DISCONNECTED; secondary channels just report timeout.
func (m *Manager) onHeartbeatTimeout(channelID int) {
	if m.prom != nil {
		m.prom.HeartbeatTimeouts.Inc()
	}
	if channelID != m.primaryLinkID {
		return
	}
	rt := m.byID[channelID]
	if rt == nil || rt.link == nil {
		return
	}
	rt.link.Reset()
}

func (m *Manager) recordError(err error) {
	if err == nil {
		return
	}
	m.errs.Capture(err)
	if m.prom != nil {
		m.prom.ErrorsTotal.WithLabelValues(apicore.CodeOf(err).String()).Inc()
	}
}

// OnDoorbell is the ISR entry point: the platform's interrupt vector
// (here, hw.SimDoorbell's reader goroutine) calls this when the
// inbound doorbell fires. It only hands the instance off to the
// deferred task and never runs channel Rx itself.
func (m *Manager) OnDoorbell(instanceIndex int) {
	if err := m.bridge.PostRxWork(apicore.RxTask{Instance: instanceIndex}); err != nil {
		m.recordError(err)
	}
	if err := m.doorbell.IRQClear(instanceIndex); err != nil {
		m.recordError(err)
	}
}

func (m *Manager) onDeferredRx(apicore.RxTask) {
	if _, err := m.PollChannels(m.cfg.pollBudget()); err != nil {
		m.recordError(err)
	}
}

// PollChannels drains every channel's Rx path under fair
// budgeting algorithm, for polling-mode deployments or manual pumping
// in tests.
func (m *Manager) PollChannels(budget int) (int, error) {
	steps := make([]RxStep, len(m.runtimes))
	for i, rt := range m.runtimes {
		rt := rt
		steps[i] = func(b int) (int, error) { return rt.ch.Rx(b) }
	}
	return RunFairRx(steps, budget)
}

// Init runs hw/RTOS bring-up for this instance: starts the deferred Rx
// task, enables and clears the inbound doorbell, then flips Global to
// READY and flushes the local cache window.
func (m *Manager) Init(ctx context.Context) error {
	idx := m.cfg.InstanceIndex
	if err := m.bridge.StartDeferredTask(ctx, m.onDeferredRx); err != nil {
		return err
	}
	if err := m.doorbell.IRQClear(idx); err != nil {
		return err
	}
	if err := m.doorbell.IRQEnable(idx); err != nil {
		return err
	}
	m.global.SetReady()
	return m.doorbell.FlushCacheLocal(idx)
}

// Start calls Init, applies best-effort affinity to the configured
// local core for the OS thread running Start (the tick goroutine it
// then launches is not pinned), and launches the 10 ms tick loop that drives link.Tick,
// heartbeat.Process and framer.Flush across all channels.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return err
	}
	if err := affinity.SetAffinity(m.cfg.LocalCore.Index); err != nil {
		log.Printf("Affinity pin warning: %v", err)
		m.recordError(apicore.New(apicore.NotSup, "affinity pin failed").WithContext("err", err.Error()))
	}
	m.stopTick = make(chan struct{})
	m.tickWG.Add(1)
	go m.tickLoop(ctx)
	return nil
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer m.tickWG.Done()
	period := m.cfg.tickPeriod()
	hbPeriod := m.cfg.heartbeatPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopTick:
			return
		case <-ticker.C:
			elapsed += period
			m.tick(elapsed, hbPeriod)
		}
	}
}

// tick runs the single periodic task's three phases in order: framer
// flush, heartbeat, then link state machine. Link.Tick and
// heartbeat.Process each stage frames on the framer themselves;
// flushing first means their traffic goes out with whatever the
// application already queued this tick instead of a tick behind it.
func (m *Manager) tick(elapsed, hbPeriod time.Duration) {
	for _, rt := range m.runtimes {
		if rt.framer != nil && rt.framer.HasPendingContent() {
			if err := rt.framer.Flush(); err != nil {
				m.recordError(err)
			}
		}
	}
	if hbPeriod > 0 && elapsed%hbPeriod == 0 {
		for _, rt := range m.runtimes {
			if rt.hb == nil {
				continue
			}
			if err := rt.hb.Process(); err != nil {
				m.recordError(err)
			}
			if m.prom != nil {
				m.prom.HeartbeatMisses.
					WithLabelValues(strconv.Itoa(rt.spec.ID)).
					Set(float64(rt.hb.MissCount()))
			}
		}
	}
	for _, rt := range m.runtimes {
		if rt.link != nil {
			rt.link.Tick()
		}
	}
	for _, rt := range m.runtimes {
		if rt.link != nil && m.prom != nil {
			m.prom.LinkState.WithLabelValues(strconv.Itoa(rt.spec.ID)).Set(float64(rt.link.State()))
		}
	}
}

// IsRemoteReady flushes the remote cache window and inspects the
// peer's Global word.
func (m *Manager) IsRemoteReady() bool {
	if err := m.doorbell.FlushCacheRemote(m.cfg.InstanceIndex); err != nil {
		m.recordError(err)
		return false
	}
	return m.global.IsRemoteReady()
}

// Stop halts the periodic tick and the deferred RTOS task. It does
// not free channel resources; call Free afterward for full teardown.
func (m *Manager) Stop() error {
	if m.stopTick != nil {
		close(m.stopTick)
		m.tickWG.Wait()
		m.stopTick = nil
	}
	if err := m.bridge.Stop(); err != nil {
		return err
	}
	return m.doorbell.IRQDisable(m.cfg.InstanceIndex)
}

// Free releases every channel's own BD rings and pools and clears the
// Global word.
func (m *Manager) Free() {
	m.teardown()
}

func (m *Manager) teardown() {
	for _, rt := range m.runtimes {
		if rt.ch != nil {
			rt.ch.Free()
		}
	}
	m.global.Clear()
}

// Dispatcher exposes the shared service dispatcher so the application
// can register Event/Method/Response handlers.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.dispatch }

// Channel returns the tagged channel for id, or nil if unknown.
func (m *Manager) Channel(id int) *channel.Channel {
	if rt := m.byID[id]; rt != nil {
		return rt.ch
	}
	return nil
}

// Framer returns the framer attached to the managed channel id, or
// nil if the channel has none (unmanaged, or framer not configured).
func (m *Manager) Framer(id int) *stack.Framer {
	if rt := m.byID[id]; rt != nil {
		return rt.framer
	}
	return nil
}

// Link returns the link context attached to channel id, or nil.
func (m *Manager) Link(id int) *link.Link {
	if rt := m.byID[id]; rt != nil {
		return rt.link
	}
	return nil
}

// Heartbeat returns the heartbeat monitor attached to channel id, or nil.
func (m *Manager) Heartbeat(id int) *heartbeat.Monitor {
	if rt := m.byID[id]; rt != nil {
		return rt.hb
	}
	return nil
}

// Errors exposes the error-site recorder for diagnostics/tests.
func (m *Manager) Errors() *trace.Recorder { return m.errs }

// Metrics exposes the ad hoc snapshot registry.
func (m *Manager) Metrics() *control.MetricsRegistry { return m.metrics }

// Registry exposes the Prometheus registry this instance's metrics are
// registered against, for a scrape handler to serve.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Debug exposes the probe registry.
func (m *Manager) Debug() *control.DebugProbes { return m.debug }

// ConfigStore exposes the hot-reloadable tunables store.
func (m *Manager) ConfigStore() *control.ConfigStore { return m.cfgStore }
