// Package mlagmetrics exposes mlagd's counters and live gauges as
// Prometheus metrics.
package mlagmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "mlagd"
	subsystem = "mlag"
)

// Label names for MLAG metrics.
const (
	labelPeer = "peer"
	labelPort = "port"
	labelVid  = "vid"
)

// -------------------------------------------------------------------------
// Collector — Prometheus MLAG Metrics
// -------------------------------------------------------------------------

// Collector holds all MLAG Prometheus metrics.
//
//   - Role and peer-liveness gauges track the node's master-election state.
//   - Port gauges track per-port local/remote/master FSM state.
//   - FDB counters track MAC learn/age/flush volume.
//   - Flush gauges track FlushCoordinator pool pressure.
//   - Wire counters track decode/encode failures and dispatch volume.
type Collector struct {
	// Role is 0=Standalone, 1=Master, 2=Slave (mlag.Role's numeric value).
	Role prometheus.Gauge

	// PeerLiveness is 1 when the peer at label "peer" is considered
	// live, 0 otherwise (§4.4 liveness table).
	PeerLiveness *prometheus.GaugeVec

	// PortsAdded and PortsDeleted count PortDb.Allocate/Delete calls.
	PortsAdded   prometheus.Counter
	PortsDeleted prometheus.Counter

	// GlobalStateEmitted counts PortMasterFsm emissions broadcast to
	// peers (§4.6).
	GlobalStateEmitted prometheus.Counter

	// LocalLearnAccepted, LocalLearnDenied and LocalLearnMigrate count
	// FdbMaster's admission outcomes for locally-learned MACs (§4.7).
	LocalLearnAccepted prometheus.Counter
	LocalLearnDenied   prometheus.Counter
	LocalLearnMigrate  prometheus.Counter

	// GlobalLearnSent and GlobalAgeSent count FdbMaster broadcasts to
	// FdbPeer instances across the domain (§4.7, §4.8).
	GlobalLearnSent prometheus.Counter
	GlobalAgeSent   prometheus.Counter

	// FdbCapacityDenied counts learn attempts rejected because the FDB
	// table (or the underlying HAL) is at capacity (§4.7 edge cases).
	FdbCapacityDenied prometheus.Counter

	// FdbProgramRetryExhaust counts HAL programming retries abandoned
	// after backoff (resolved Open Question, SPEC_FULL.md §9).
	FdbProgramRetryExhaust prometheus.Counter

	// FlushStarted, FlushCompleted and FlushTimedOut count
	// FlushCoordinator lifecycle events, labeled by scope (§4.9).
	FlushStarted   prometheus.Counter
	FlushCompleted prometheus.Counter
	FlushTimedOut  prometheus.Counter

	// FlushPoolExhausted counts flush starts rejected because both
	// flushFSM pools were full (§3 pool sizing, §4.9).
	FlushPoolExhausted prometheus.Counter

	// FlushInFlight gauges FlushCoordinator.InFlightCount at scrape time.
	FlushInFlight prometheus.Gauge

	// RouterMacSynced counts router-MAC table entries marked synced
	// after the peer ACKs (§4.5).
	RouterMacSynced prometheus.Counter

	// WireDecodeErrors and WireEncodeErrors count CommWrapper net_order
	// swap failures (§4.2).
	WireDecodeErrors prometheus.Counter
	WireEncodeErrors prometheus.Counter

	// OpcodesDispatched counts every PDU CommWrapper hands to its
	// Dispatcher (§4.2, §4.3).
	OpcodesDispatched prometheus.Counter

	// PeerCommDown counts CommWrapper session teardown events (§4.2
	// failure modes, §4.10 step 4 split-brain detection).
	PeerCommDown prometheus.Counter

	// PortLocalState, PortRemoteState and PortMasterState gauge each
	// port's per-layer FSM state (§4.6's three-layer model) at scrape
	// time, labeled by port id.
	PortLocalState  *prometheus.GaugeVec
	PortRemoteState *prometheus.GaugeVec
	PortMasterState *prometheus.GaugeVec
}

// NewCollector creates a Collector with all MLAG metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Role,
		c.PeerLiveness,
		c.PortsAdded,
		c.PortsDeleted,
		c.GlobalStateEmitted,
		c.LocalLearnAccepted,
		c.LocalLearnDenied,
		c.LocalLearnMigrate,
		c.GlobalLearnSent,
		c.GlobalAgeSent,
		c.FdbCapacityDenied,
		c.FdbProgramRetryExhaust,
		c.FlushStarted,
		c.FlushCompleted,
		c.FlushTimedOut,
		c.FlushPoolExhausted,
		c.FlushInFlight,
		c.RouterMacSynced,
		c.WireDecodeErrors,
		c.WireEncodeErrors,
		c.OpcodesDispatched,
		c.PeerCommDown,
		c.PortLocalState,
		c.PortRemoteState,
		c.PortMasterState,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		Role: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "role",
			Help:      "Current master-election role: 0=Standalone, 1=Master, 2=Slave.",
		}),

		PeerLiveness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peer_liveness",
			Help:      "1 if the peer is currently live, 0 otherwise.",
		}, []string{labelPeer}),

		PortsAdded:             counter("ports_added_total", "Total ports allocated in PortDb."),
		PortsDeleted:           counter("ports_deleted_total", "Total ports freed from PortDb."),
		GlobalStateEmitted:     counter("global_state_emitted_total", "Total PortMasterFsm emissions broadcast to peers."),
		LocalLearnAccepted:     counter("local_learn_accepted_total", "Total locally-learned MACs admitted."),
		LocalLearnDenied:       counter("local_learn_denied_total", "Total locally-learned MACs denied admission."),
		LocalLearnMigrate:      counter("local_learn_migrate_total", "Total locally-learned MACs that migrated ports."),
		GlobalLearnSent:        counter("global_learn_sent_total", "Total global learn records broadcast by FdbMaster."),
		GlobalAgeSent:          counter("global_age_sent_total", "Total global age records broadcast by FdbMaster."),
		FdbCapacityDenied:      counter("fdb_capacity_denied_total", "Total learn attempts denied due to FDB capacity."),
		FdbProgramRetryExhaust: counter("fdb_program_retry_exhaust_total", "Total HAL program retries abandoned after backoff."),
		FlushStarted:           counter("flush_started_total", "Total flush operations started."),
		FlushCompleted:         counter("flush_completed_total", "Total flush operations completed, by ACK or by ACK timeout."),
		FlushTimedOut:          counter("flush_timed_out_total", "Total flush operations abandoned on ACK timeout."),
		FlushPoolExhausted:     counter("flush_pool_exhausted_total", "Total flush starts rejected for lack of a free flushFSM slot."),

		FlushInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_in_flight",
			Help:      "Number of flush operations currently awaiting peer ACKs.",
		}),

		RouterMacSynced:   counter("router_mac_synced_total", "Total router-MAC entries marked synced."),
		WireDecodeErrors:  counter("wire_decode_errors_total", "Total net_order decode failures."),
		WireEncodeErrors:  counter("wire_encode_errors_total", "Total net_order encode failures."),
		OpcodesDispatched: counter("opcodes_dispatched_total", "Total PDUs dispatched by CommWrapper."),
		PeerCommDown:      counter("peer_comm_down_total", "Total CommWrapper session teardown events."),

		PortLocalState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_local_state",
			Help:      "Current PortLocalFsm state per port.",
		}, []string{labelPort}),

		PortRemoteState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_remote_state",
			Help:      "Current PortRemoteFsm state per port.",
		}, []string{labelPort}),

		PortMasterState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_master_state",
			Help:      "Current PortMasterFsm state per port.",
		}, []string{labelPort}),
	}
}

// SetRole sets the role gauge from a mlag.Role's numeric value.
func (c *Collector) SetRole(role uint8) {
	c.Role.Set(float64(role))
}

// SetPeerLiveness sets the liveness gauge for peer, 1 if live.
func (c *Collector) SetPeerLiveness(peer int, live bool) {
	v := 0.0
	if live {
		v = 1.0
	}
	c.PeerLiveness.WithLabelValues(peerLabel(peer)).Set(v)
}

// SetPortStates sets the three per-layer FSM gauges for one port.
func (c *Collector) SetPortStates(portID uint32, local, remote, master uint8) {
	label := portLabel(portID)
	c.PortLocalState.WithLabelValues(label).Set(float64(local))
	c.PortRemoteState.WithLabelValues(label).Set(float64(remote))
	c.PortMasterState.WithLabelValues(label).Set(float64(master))
}

// SyncCounters copies every atomic field from snap into the matching
// Prometheus counter. Counters only increase, so each call adds the delta
// since the last sync; callers must serialize calls to SyncCounters (the
// metrics HTTP handler's scrape goroutine is the only caller in mlagd).
func (c *Collector) SyncCounters(snap CounterSnapshot, prev *CounterSnapshot) {
	addDelta(c.PortsAdded, snap.PortsAdded, prev.PortsAdded)
	addDelta(c.PortsDeleted, snap.PortsDeleted, prev.PortsDeleted)
	addDelta(c.GlobalStateEmitted, snap.GlobalStateEmitted, prev.GlobalStateEmitted)
	addDelta(c.LocalLearnAccepted, snap.LocalLearnAccepted, prev.LocalLearnAccepted)
	addDelta(c.LocalLearnDenied, snap.LocalLearnDenied, prev.LocalLearnDenied)
	addDelta(c.LocalLearnMigrate, snap.LocalLearnMigrate, prev.LocalLearnMigrate)
	addDelta(c.GlobalLearnSent, snap.GlobalLearnSent, prev.GlobalLearnSent)
	addDelta(c.GlobalAgeSent, snap.GlobalAgeSent, prev.GlobalAgeSent)
	addDelta(c.FdbCapacityDenied, snap.FdbCapacityDenied, prev.FdbCapacityDenied)
	addDelta(c.FdbProgramRetryExhaust, snap.FdbProgramRetryExhaust, prev.FdbProgramRetryExhaust)
	addDelta(c.FlushStarted, snap.FlushStarted, prev.FlushStarted)
	addDelta(c.FlushCompleted, snap.FlushCompleted, prev.FlushCompleted)
	addDelta(c.FlushTimedOut, snap.FlushTimedOut, prev.FlushTimedOut)
	addDelta(c.FlushPoolExhausted, snap.FlushPoolExhausted, prev.FlushPoolExhausted)
	addDelta(c.RouterMacSynced, snap.RouterMacSynced, prev.RouterMacSynced)
	addDelta(c.WireDecodeErrors, snap.WireDecodeErrors, prev.WireDecodeErrors)
	addDelta(c.WireEncodeErrors, snap.WireEncodeErrors, prev.WireEncodeErrors)
	addDelta(c.OpcodesDispatched, snap.OpcodesDispatched, prev.OpcodesDispatched)
	addDelta(c.PeerCommDown, snap.PeerCommDown, prev.PeerCommDown)
	c.FlushInFlight.Set(float64(snap.FlushInFlight))
	*prev = snap
}

func addDelta(c prometheus.Counter, cur, last uint64) {
	if cur <= last {
		return
	}
	c.Add(float64(cur - last))
}

// CounterSnapshot is a point-in-time copy of mlag.Counters' atomic fields,
// taken so SyncCounters never reads a *mlag.Counters directly (metrics
// stays decoupled from the mlag package's internal atomic layout).
type CounterSnapshot struct {
	PortsAdded             uint64
	PortsDeleted           uint64
	GlobalStateEmitted     uint64
	LocalLearnMigrate      uint64
	LocalLearnAccepted     uint64
	LocalLearnDenied       uint64
	GlobalLearnSent        uint64
	GlobalAgeSent          uint64
	FdbCapacityDenied      uint64
	FdbProgramRetryExhaust uint64
	FlushStarted           uint64
	FlushCompleted         uint64
	FlushTimedOut          uint64
	FlushPoolExhausted     uint64
	RouterMacSynced        uint64
	WireDecodeErrors       uint64
	WireEncodeErrors       uint64
	OpcodesDispatched      uint64
	PeerCommDown           uint64
	FlushInFlight          int
}

func peerLabel(peer int) string {
	return strconv.Itoa(peer)
}

func portLabel(port uint32) string {
	return strconv.FormatUint(uint64(port), 10)
}
