package scene

import (
	"context"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/render"
	"holding-parade/server/internal/telemetry"
	"holding-parade/server/logging"
	"holding-parade/server/logging/lifecycle"
)

// ErrRenderingUnavailable is the only initialization failure of the scene.
var ErrRenderingUnavailable = errors.New("scene: rendering unavailable")

// Hooks are host callbacks. They are never invoked with the scene lock held.
type Hooks struct {
	OnEntityPicked func(id string)
	// OnLoadingProgress receives an empty label together with complete=true
	// when the last outstanding load finishes.
	OnLoadingProgress func(label string, complete bool)
}

// Deps are the collaborators of a Manager. Renderer, Cache and Manifests are
// required; the rest default.
type Deps struct {
	Renderer  render.Renderer
	Cache     *assets.Cache
	Manifests *assets.ManifestStore
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	RNG       *rand.Rand
	Messages  MessageSource
	Hooks     Hooks
}

// Manager reconciles descriptor snapshots against the live entity set and
// drives entities every tick.
type Manager struct {
	st       *stage
	cancel   context.CancelFunc
	hooks    Hooks
	messages MessageSource

	// Guarded by st.mu.
	entities    map[string]*Entity
	order       []string
	speech      Speech
	environment []render.Node

	// flight guards the single-flight flag and the one-slot mailbox.
	flight   sync.Mutex
	applying bool
	pending  []Descriptor
	hasNext  bool
}

// Frame is a read-only snapshot of the scene for streaming to clients.
type Frame struct {
	Tick     uint64       `json:"tick"`
	Speaker  string       `json:"speaker,omitempty"`
	Entities []EntityView `json:"entities"`
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Renderer == nil {
		return nil, errors.Mark(errors.New("scene: no renderer configured"), ErrRenderingUnavailable)
	}
	if err := deps.Renderer.Available(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "scene: check renderer"), ErrRenderingUnavailable)
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.Discard()
	}
	if deps.Cache == nil {
		deps.Cache = assets.NewCache(deps.Renderer, assets.DefaultRetryPolicy(), deps.Logger)
	}
	if deps.Manifests == nil {
		deps.Manifests = assets.NewManifestStore(nil)
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.RNG == nil {
		deps.RNG = newRNG()
	}
	if deps.Messages == nil {
		deps.Messages = DefaultMessages()
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &stage{
		ctx:       ctx,
		cfg:       cfg.normalized(),
		renderer:  deps.Renderer,
		cache:     deps.Cache,
		manifests: deps.Manifests,
		rng:       deps.RNG,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		progress:  &progress{hook: deps.Hooks.OnLoadingProgress, publisher: deps.Publisher},
	}
	m := &Manager{
		st:       st,
		cancel:   cancel,
		hooks:    deps.Hooks,
		messages: deps.Messages,
		entities: make(map[string]*Entity),
	}
	m.speech.schedule(st)
	return m, nil
}

// Config returns the normalized configuration in use.
func (m *Manager) Config() Config {
	return m.st.cfg
}

// Apply reconciles the live entity set against snapshot. Only one
// reconciliation runs at a time: a call made while one is in flight parks its
// snapshot in the mailbox, replacing any parked earlier, and returns at once.
// The in-flight caller applies the parked snapshot when it finishes and
// returns only once the mailbox is empty.
//
// Constructions run under the manager's lifetime and are discarded only by
// Dispose. Canceling ctx does not cut a reconciliation short.
func (m *Manager) Apply(_ context.Context, snapshot []Descriptor) {
	next := normalizeSnapshot(snapshot)

	m.flight.Lock()
	if m.applying {
		m.pending, m.hasNext = next, true
		m.flight.Unlock()
		m.st.metrics.Add("snapshots_coalesced", 1)
		return
	}
	m.applying = true
	m.flight.Unlock()

	for {
		m.reconcile(next)

		m.flight.Lock()
		if !m.hasNext {
			m.applying = false
			m.flight.Unlock()
			return
		}
		next, m.pending, m.hasNext = m.pending, nil, false
		m.flight.Unlock()
	}
}

type build struct {
	desc   Descriptor
	anchor render.Vec3
}

func (m *Manager) reconcile(snapshot []Descriptor) {
	st := m.st
	st.mu.Lock()
	if st.disposed {
		st.mu.Unlock()
		return
	}
	st.metrics.Add("reconciliations", 1)

	current := make(map[string]struct{}, len(snapshot))
	for _, d := range snapshot {
		current[d.ID] = struct{}{}
	}
	for _, id := range m.idsLocked() {
		if _, ok := current[id]; !ok {
			m.removeLocked(m.entities[id], "removed from snapshot")
		}
	}

	anchors := GridLayout(len(snapshot), st.cfg.GridSpacing)
	var builds []build
	order := make([]string, 0, len(snapshot))
	for i, d := range snapshot {
		order = append(order, d.ID)
		e, ok := m.entities[d.ID]
		switch {
		case !ok:
			builds = append(builds, build{desc: d, anchor: anchors[i]})
		case e.desc.Skin != d.Skin:
			// Tracks are skin specific, so a new skin is a new entity.
			m.removeLocked(e, "skin changed")
			builds = append(builds, build{desc: d, anchor: anchors[i]})
		default:
			e.apply(d)
		}
	}
	m.order = order
	st.mu.Unlock()

	if len(builds) > 0 {
		var g errgroup.Group
		for _, b := range builds {
			g.Go(func() error {
				return m.construct(st.ctx, b.desc, b.anchor)
			})
		}
		if err := g.Wait(); err != nil {
			st.logger.Printf("scene: reconciliation cut short: %v", err)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.disposed {
		return
	}
	m.relayoutLocked()
	st.metrics.Store("entities", uint64(len(m.entities)))
}

// loadContext is canceled when either the caller's context or the manager is.
func (m *Manager) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.st.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// construct loads the initial track for d and then attaches the entity, or
// discards everything it built if the scene was torn down meanwhile.
func (m *Manager) construct(ctx context.Context, d Descriptor, anchor render.Vec3) error {
	st := m.st
	e := newEntity(st, d)
	e.anchor, e.position = anchor, anchor
	initial := stateForTrend(d.Trend)

	var (
		inst    assets.Instance
		loadErr error
	)
	manifest := st.manifests.Manifest()
	skin, err := manifest.Resolve(d.Skin, st.cfg.FallbackSkin)
	if err != nil {
		loadErr = err
	} else if locator, ok := manifest.Locator(skin, initial.String()); !ok {
		loadErr = errors.Mark(errors.Newf("skin %q has no %s track", skin, initial), assets.ErrManifestMissing)
	} else {
		e.skin = skin
		key := trackKey(skin, initial)
		st.progress.begin(key)
		inst, loadErr = st.cache.Load(ctx, key, locator)
		st.progress.end()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.disposed || ctx.Err() != nil {
		if loadErr == nil {
			st.renderer.Dispose(inst.Node)
		}
		st.metrics.Add("constructions_discarded", 1)
		lifecycle.ConstructionDiscarded(context.Background(), st.publisher, st.tick, logging.HoldingRef(d.ID), nil)
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "construct %s", d.ID)
		}
		return nil
	}

	if loadErr != nil {
		e.skin = ""
		e.usePlaceholder()
		st.logger.Printf("entity %s: using placeholder: %v", d.ID, loadErr)
		st.metrics.Add("entity_fallbacks", 1)
		lifecycle.EntityFallback(context.Background(), st.publisher, st.tick, logging.HoldingRef(d.ID), lifecycle.EntityFallbackPayload{
			Skin:  d.Skin,
			Error: loadErr.Error(),
		}, nil)
	} else {
		e.installTrack(initial, newTrack(st.renderer, inst, initial))
	}

	m.entities[d.ID] = e
	e.start()
	st.metrics.Add("entities_created", 1)
	lifecycle.EntityCreated(context.Background(), st.publisher, st.tick, logging.HoldingRef(d.ID), lifecycle.EntityCreatedPayload{
		Instance: e.instance,
		Skin:     e.skin,
		State:    e.state.String(),
	}, nil)
	return nil
}

func (m *Manager) removeLocked(e *Entity, reason string) {
	st := m.st
	e.dispose()
	if m.speech.speaker == e {
		m.speech.abort(st)
	}
	delete(m.entities, e.id)
	st.metrics.Add("entities_disposed", 1)
	lifecycle.EntityDisposed(context.Background(), st.publisher, st.tick, logging.HoldingRef(e.id), lifecycle.EntityDisposedPayload{
		Instance: e.instance,
		Reason:   reason,
	}, nil)
}

// relayoutLocked recomputes every anchor from the current ordering. Entities
// whose slot is unchanged keep wandering where they are.
func (m *Manager) relayoutLocked() {
	live := m.liveLocked()
	anchors := GridLayout(len(live), m.st.cfg.GridSpacing)
	for i, e := range live {
		e.relayout(anchors[i])
	}
}

// liveLocked returns live entities in layout order.
func (m *Manager) liveLocked() []*Entity {
	live := make([]*Entity, 0, len(m.entities))
	for _, id := range m.order {
		if e, ok := m.entities[id]; ok {
			live = append(live, e)
		}
	}
	return live
}

func (m *Manager) idsLocked() []string {
	ids := make([]string, 0, len(m.entities))
	for _, e := range m.liveLocked() {
		ids = append(ids, e.id)
	}
	return ids
}

// Tick advances every entity and the speech coordinator by dt seconds,
// clamped to the configured maximum.
func (m *Manager) Tick(dt float64) {
	st := m.st
	if dt < 0 {
		dt = 0
	}
	if dt > st.cfg.MaxTickDelta {
		dt = st.cfg.MaxTickDelta
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.disposed {
		return
	}
	st.tick++
	live := m.liveLocked()
	for _, e := range live {
		e.update(dt)
	}
	m.speech.update(st, live, m.messages, dt)
}

// Pick resolves a pointer coordinate to the identifier of the entity under
// it and reports it through OnEntityPicked.
func (m *Manager) Pick(p render.Point) (string, bool) {
	st := m.st
	node, ok := st.renderer.Pick(p)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	var id string
	if !st.disposed {
		for _, e := range m.liveLocked() {
			if e.owns(node) {
				id = e.id
				break
			}
		}
	}
	st.mu.Unlock()
	if id == "" {
		return "", false
	}
	if m.hooks.OnEntityPicked != nil {
		m.hooks.OnEntityPicked(id)
	}
	return id, true
}

// Dispose tears the scene down. In-flight loads are canceled and whatever
// they produce afterwards is released instead of attached. Safe to call more
// than once.
func (m *Manager) Dispose() {
	m.flight.Lock()
	m.pending, m.hasNext = nil, false
	m.flight.Unlock()

	st := m.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.disposed {
		return
	}
	st.disposed = true
	m.cancel()

	for _, e := range m.liveLocked() {
		m.removeLocked(e, "scene disposed")
	}
	for _, node := range m.environment {
		st.renderer.Detach(node)
		st.renderer.Dispose(node)
	}
	m.environment = nil
	m.entities = make(map[string]*Entity)
	m.order = nil
	m.speech.schedule(st)
}

// Wait blocks until lazy track loads started by entities have landed.
func (m *Manager) Wait() {
	m.st.loads.Wait()
}

// Disposed reports whether Dispose has been called.
func (m *Manager) Disposed() bool {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.st.disposed
}

// IDs returns live identifiers in layout order.
func (m *Manager) IDs() []string {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.idsLocked()
}

// Entity returns a view of the live entity with the given identifier.
func (m *Manager) Entity(id string) (EntityView, bool) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return EntityView{}, false
	}
	return e.view(), true
}

// Speaker returns the identifier of the speaking entity, if any.
func (m *Manager) Speaker() (string, bool) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if m.speech.speaker == nil {
		return "", false
	}
	return m.speech.speaker.id, true
}

func (m *Manager) Frame() Frame {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	frame := Frame{Tick: m.st.tick}
	if m.speech.speaker != nil {
		frame.Speaker = m.speech.speaker.id
	}
	live := m.liveLocked()
	frame.Entities = make([]EntityView, 0, len(live))
	for _, e := range live {
		frame.Entities = append(frame.Entities, e.view())
	}
	return frame
}
