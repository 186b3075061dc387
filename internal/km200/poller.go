package km200

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
)

// Result is the outcome of polling one endpoint.
type Result struct {
	Value DecodedValue
	Err   error
}

// CycleStats summarises one full poll cycle.
type CycleStats struct {
	StartedAt time.Time     `json:"started_at"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// PollerOptions configures a Poller. Nil sinks are skipped.
type PollerOptions struct {
	Device    Device
	Codec     *Codec
	Registry  *Registry
	Endpoints []Endpoint

	// Gauges receives kind=gauge values.
	Gauges GaugeSink
	// OnValue is the string mapped to gauge value 1.
	OnValue string

	// Publisher receives kind=gauge and kind=state values.
	Publisher Publisher
	Topics    mqtt.Topics

	// History records every published value.
	History HistorySink

	// Observer sees every published value.
	Observer Observer

	Supervisor *Supervisor
	Metrics    Instrumentation
	Logger     Logger
}

// Poller queries the configured endpoints one at a time and forwards
// decoded values to the active sinks.
//
// Full cycles are serialised: an overlapping trigger waits for the running
// cycle to finish. Refresh, used by write-back, does not wait for a cycle;
// the device client keeps requests strictly one at a time.
type Poller struct {
	device     Device
	codec      *Codec
	registry   *Registry
	endpoints  []Endpoint
	gauges     GaugeSink
	onValue    string
	publisher  Publisher
	topics     mqtt.Topics
	history    HistorySink
	observer   Observer
	supervisor *Supervisor
	metrics    Instrumentation
	logger     Logger

	// kinds maps configured paths, and ids learned from responses, to a kind.
	kinds   map[string]Kind
	kindsMu sync.RWMutex

	cycleMu sync.Mutex

	lastStats *CycleStats
	statsMu   sync.RWMutex

	now func() time.Time
}

// NewPoller creates a poller over opts.Endpoints.
func NewPoller(opts PollerOptions) *Poller {
	p := &Poller{
		device:     opts.Device,
		codec:      opts.Codec,
		registry:   opts.Registry,
		endpoints:  append([]Endpoint(nil), opts.Endpoints...),
		gauges:     opts.Gauges,
		onValue:    opts.OnValue,
		publisher:  opts.Publisher,
		topics:     opts.Topics,
		history:    opts.History,
		observer:   opts.Observer,
		supervisor: opts.Supervisor,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		kinds:      make(map[string]Kind, len(opts.Endpoints)),
		now:        time.Now,
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	if p.metrics == nil {
		p.metrics = nopInstrumentation{}
	}
	if p.logger == nil {
		p.logger = discardLogger()
	}
	for _, ep := range p.endpoints {
		p.kinds[ep.Path] = ep.Kind
	}
	return p
}

// Endpoints returns the configured endpoint list.
func (p *Poller) Endpoints() []Endpoint {
	return append([]Endpoint(nil), p.endpoints...)
}

// Poll fetches, decodes and classifies one endpoint. It has no sink side effects.
func (p *Poller) Poll(ctx context.Context, ep Endpoint) Result {
	body, err := p.device.Get(ctx, ep.Path)
	if p.supervisor != nil {
		p.supervisor.ObserveFetch(err)
	}
	if err != nil {
		return Result{Err: err}
	}

	rec, err := p.codec.Decode(body)
	if err != nil {
		return Result{Err: err}
	}

	v, err := Classify(rec)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Value: v}
}

// RunCycle lazily polls eps in order, one endpoint at a time. A failing
// endpoint yields its error and the sequence continues. The sequence ends
// early only when the consumer stops or ctx is cancelled.
func (p *Poller) RunCycle(ctx context.Context, eps []Endpoint) iter.Seq2[Endpoint, Result] {
	return func(yield func(Endpoint, Result) bool) {
		for _, ep := range eps {
			if ctx.Err() != nil {
				return
			}
			if !yield(ep, p.Poll(ctx, ep)) {
				return
			}
		}
	}
}

// Sync runs one full cycle over the configured endpoints and feeds every
// successful reading to the registry and sinks.
func (p *Poller) Sync(ctx context.Context) CycleStats {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	stats := CycleStats{StartedAt: p.now()}
	for ep, res := range p.RunCycle(ctx, p.endpoints) {
		stats.Attempted++
		if res.Err != nil {
			stats.Failed++
			p.recordFailure(ep.Path, res.Err)
			continue
		}
		stats.Succeeded++
		p.learnKind(res.Value.ID, ep.Kind)
		p.process(ep, res.Value)
	}
	stats.Duration = p.now().Sub(stats.StartedAt)

	p.statsMu.Lock()
	p.lastStats = &stats
	p.statsMu.Unlock()

	p.metrics.CycleCompleted(stats.Attempted, stats.Succeeded, stats.Failed, stats.Duration)
	p.logger.Info("poll cycle complete",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration", stats.Duration)
	return stats
}

// Refresh polls a single path and processes the result like a cycle would.
// Paths without a publishing kind are published as state so a write
// confirmation is always visible.
func (p *Poller) Refresh(ctx context.Context, path string) Result {
	kind := p.kindFor(path)
	if kind == KindNone {
		kind = KindState
	}

	ep := Endpoint{Path: path, Kind: kind}
	res := p.Poll(ctx, ep)
	if res.Err != nil {
		p.recordFailure(path, res.Err)
		return res
	}
	p.process(ep, res.Value)
	return res
}

// LastCycle returns the stats of the most recent completed cycle, or nil.
func (p *Poller) LastCycle() *CycleStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	if p.lastStats == nil {
		return nil
	}
	s := *p.lastStats
	return &s
}

func (p *Poller) recordFailure(path string, err error) {
	reason := errorReason(err)
	p.metrics.FetchFailed(reason)
	p.logger.Warn("endpoint poll failed", "path", path, "reason", reason, "error", err)
}

// process applies one successful reading to the registry and sinks.
// The gauge is named after the queried path, not the id the device reported.
func (p *Poller) process(ep Endpoint, v DecodedValue) {
	if p.registry.RecordIfWritable(v) {
		spec, _ := p.registry.LookupWritable(v.ID)
		p.logger.Info("writable endpoint",
			"id", v.ID,
			"type", spec.ValueType.String(),
			"min", spec.Min,
			"max", spec.Max,
			"allowed", spec.Allowed)
	}

	kind := ep.Kind
	if kind == KindNone {
		return
	}
	now := p.now()

	if kind.PubSub() && p.publisher != nil {
		p.publishMeta(v)
		p.publishState(v, now)
	}

	if kind.Metric() && p.gauges != nil {
		if err := p.gauges.SetGauge(ep.ExposedName(), v.GaugeValue(p.onValue)); err != nil {
			p.logger.Warn("gauge update failed", "id", v.ID, "error", err)
		}
	}

	if p.history != nil {
		if v.ValueType == Numeric {
			p.history.WriteNumber(v.ID, v.Unit, v.Number, now)
		} else {
			p.history.WriteText(v.ID, v.Unit, v.Text, now)
		}
	}

	if p.observer != nil {
		p.observer.ValueUpdated(v, now)
	}
}

// publishMeta publishes the descriptor once per id. The id is claimed
// for the duration of the publish, so an overlapping Refresh and Sync
// publish it once; a failed publish releases the claim and is retried.
func (p *Poller) publishMeta(v DecodedValue) {
	if !p.registry.ClaimEmit(v.ID) {
		return
	}
	published := false
	defer func() { p.registry.ReleaseEmit(v.ID, published) }()

	payload, err := marshalMeta(v)
	if err != nil {
		p.logger.Warn("encoding metadata failed", "id", v.ID, "error", err)
		return
	}
	if err := p.publisher.PublishRetained(p.topics.Meta(v.ID), payload); err != nil {
		p.logger.Warn("publishing metadata failed", "id", v.ID, "error", err)
		return
	}
	published = true
}

func (p *Poller) publishState(v DecodedValue, now time.Time) {
	payload, err := marshalState(v, now)
	if err != nil {
		p.logger.Warn("encoding state failed", "id", v.ID, "error", err)
		return
	}
	if err := p.publisher.PublishRetained(p.topics.Status(v.ID), payload); err != nil {
		p.logger.Warn("publishing state failed", "id", v.ID, "error", err)
	}
}

func (p *Poller) learnKind(id string, kind Kind) {
	if id == "" {
		return
	}
	p.kindsMu.Lock()
	if _, ok := p.kinds[id]; !ok {
		p.kinds[id] = kind
	}
	p.kindsMu.Unlock()
}

func (p *Poller) kindFor(path string) Kind {
	p.kindsMu.RLock()
	defer p.kindsMu.RUnlock()
	return p.kinds[path]
}
