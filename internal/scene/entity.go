package scene

import (
	"github.com/google/uuid"

	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/render"
)

// Track is one loaded animation of one entity. It is never shared.
type Track struct {
	node   render.Node
	player render.Player
	height float64
}

func newTrack(r render.Renderer, inst assets.Instance, s State) *Track {
	track := &Track{node: inst.Node, height: r.Bounds(inst.Node).Height()}
	if clip, ok := inst.Clip(s.String()); ok {
		track.player = r.CreatePlayer(inst.Node, clip)
	}
	return track
}

func (t *Track) release(r render.Renderer) {
	if t.player != nil {
		t.player.Stop()
	}
	r.Detach(t.node)
	r.Dispose(t.node)
}

func trackKey(skin string, s State) string {
	return skin + "/" + s.String()
}

type speechState struct {
	savedHeading float64
	savedState   State
	message      string
}

// Entity is the animated character bound to one holding. Unless noted its
// methods must be called with the stage lock held.
type Entity struct {
	stage    *stage
	id       string
	instance string
	desc     Descriptor

	// skin is the resolved skin whose tracks are loaded; requested skin
	// changes are detected against desc.Skin.
	skin        string
	placeholder render.Node

	state      State
	stateTimer float64
	tracks     [stateCount]*Track
	loading    [stateCount]bool
	active     State
	hasActive  bool

	move             Movement
	position         render.Vec3
	anchor           render.Vec3
	heading          float64
	decorationHeight float64
	label            render.Label

	speech   *speechState
	disposed bool
}

func newEntity(st *stage, d Descriptor) *Entity {
	return &Entity{
		stage:    st,
		id:       d.ID,
		instance: uuid.NewString(),
		desc:     d,
	}
}

func (e *Entity) ID() string { return e.id }

func (e *Entity) installTrack(s State, track *Track) {
	r := e.stage.renderer
	r.SetVisible(track.node, false)
	r.Attach(track.node)
	e.tracks[s] = track
}

func (e *Entity) usePlaceholder() {
	r := e.stage.renderer
	e.placeholder = r.CreatePlaceholder(placeholderColor(e.desc.Trend))
	r.Attach(e.placeholder)
	e.decorationHeight = r.Bounds(e.placeholder).Height()
}

// start puts a freshly constructed entity into the state its trend asks for.
func (e *Entity) start() {
	e.applyTrend()
	e.pushTransform()
}

// apply takes a new descriptor for the same identifier and skin.
func (e *Entity) apply(d Descriptor) {
	previous := e.desc.Trend
	e.desc = d
	if e.speech != nil {
		return
	}
	if d.Trend != previous {
		e.applyTrend()
	}
}

func (e *Entity) applyTrend() {
	e.enter(stateForTrend(e.desc.Trend))
}

func (e *Entity) enter(s State) {
	e.state = s
	switch s {
	case StateRunning:
		e.stateTimer = uniform(e.stage.rng, e.stage.cfg.RunMin, e.stage.cfg.RunMax)
	case StateCheering:
		e.stateTimer = e.stage.cfg.CheerDuration
	default:
		e.stateTimer = 0
	}
	e.showTrack(s)
}

// showTrack makes the track for s visible, loading it first when needed. The
// previous track stays visible until the load lands.
func (e *Entity) showTrack(s State) {
	if e.placeholder != nil || e.disposed {
		return
	}
	if e.tracks[s] != nil {
		e.activate(s)
		return
	}
	if e.loading[s] {
		return
	}
	st := e.stage
	locator, ok := st.manifests.Manifest().Locator(e.skin, s.String())
	if !ok {
		st.logger.Printf("entity %s: no %s track for skin %q, keeping current animation", e.id, s, e.skin)
		return
	}
	e.loading[s] = true
	st.loads.Add(1)
	go e.loadTrack(s, locator)
}

// loadTrack runs without the stage lock and takes it to install the result.
func (e *Entity) loadTrack(s State, locator string) {
	st := e.stage
	defer st.loads.Done()

	key := trackKey(e.skin, s)
	st.progress.begin(key)
	inst, err := st.cache.Load(st.ctx, key, locator)
	st.progress.end()

	st.mu.Lock()
	defer st.mu.Unlock()
	e.loading[s] = false
	if err != nil {
		if !e.disposed && !st.disposed {
			st.logger.Printf("entity %s: %s track unavailable: %v", e.id, s, err)
			st.metrics.Add("track_load_failures", 1)
		}
		return
	}
	track := newTrack(st.renderer, inst, s)
	if e.disposed || st.disposed {
		track.release(st.renderer)
		return
	}
	e.installTrack(s, track)
	if e.state == s {
		e.activate(s)
	}
}

func (e *Entity) activate(s State) {
	next := e.tracks[s]
	if next == nil || (e.hasActive && e.active == s) {
		return
	}
	r := e.stage.renderer
	if e.hasActive {
		if prev := e.tracks[e.active]; prev != nil {
			if prev.player != nil {
				prev.player.Stop()
			}
			r.SetVisible(prev.node, false)
			r.SetLabel(prev.node, render.Label{})
		}
	}
	e.active, e.hasActive = s, true
	// Poses differ in silhouette so the decoration anchor follows the track.
	e.decorationHeight = next.height
	r.SetVisible(next.node, true)
	if next.player != nil {
		next.player.Play()
	}
	e.pushTransform()
}

func (e *Entity) activeNode() render.Node {
	if e.placeholder != nil {
		return e.placeholder
	}
	if e.hasActive && e.tracks[e.active] != nil {
		return e.tracks[e.active].node
	}
	return nil
}

func (e *Entity) labelAnchor() render.Vec3 {
	return e.position.Add(render.Vec3{Y: e.decorationHeight + e.stage.cfg.LabelMargin})
}

func (e *Entity) pushTransform() {
	node := e.activeNode()
	if node == nil {
		return
	}
	r := e.stage.renderer
	r.SetTransform(node, render.Transform{Position: e.position, Heading: e.heading})
	if e.label.Text != "" {
		e.label.Anchor = e.labelAnchor()
		r.SetLabel(node, e.label)
	}
}

// update advances the cheer alternation and wandering by dt seconds. A
// speaking entity is driven by the speech coordinator instead.
func (e *Entity) update(dt float64) {
	if e.disposed || e.speech != nil {
		return
	}
	switch e.state {
	case StateRunning:
		e.stateTimer -= dt
		if e.stateTimer <= 0 {
			e.enter(StateCheering)
		}
	case StateCheering:
		e.stateTimer -= dt
		if e.stateTimer <= 0 {
			e.enter(StateRunning)
		}
	}
	if e.state.moves() {
		cfg := e.stage.cfg
		e.position = e.move.Step(e.position, cfg.speedFor(e.state), dt, cfg, e.stage.rng)
		e.heading = dampAngle(e.heading, e.move.Heading(), cfg.HeadingDamping, dt)
	}
	e.pushTransform()
}

// moving reports whether the wander simulation is currently active.
func (e *Entity) moving() bool {
	return !e.disposed && e.speech == nil && e.state.moves()
}

func (e *Entity) beginSpeech(message string) {
	e.speech = &speechState{savedHeading: e.heading, savedState: e.state, message: message}
	e.enter(StateTalking)
	e.heading = e.stage.cfg.ViewerHeading
	e.label = render.Label{Text: message, Opacity: 1}
	e.pushTransform()
}

func (e *Entity) setSpeechOpacity(opacity float64) {
	if e.speech == nil {
		return
	}
	e.label.Opacity = opacity
	e.pushTransform()
}

// endSpeech restores the captured heading and derives the state from the
// current trend from scratch.
func (e *Entity) endSpeech() {
	if e.speech == nil {
		return
	}
	e.heading = e.speech.savedHeading
	e.speech = nil
	e.label = render.Label{}
	if node := e.activeNode(); node != nil {
		e.stage.renderer.SetLabel(node, render.Label{})
	}
	if e.disposed {
		return
	}
	e.applyTrend()
	e.pushTransform()
}

// relayout moves e to a new slot. An unchanged slot leaves the wander
// position alone.
func (e *Entity) relayout(anchor render.Vec3) {
	if anchor != e.anchor {
		e.anchor = anchor
		e.position = anchor
	}
	e.pushTransform()
}

func (e *Entity) owns(node render.Node) bool {
	if node == nil {
		return false
	}
	if e.placeholder != nil && e.placeholder == node {
		return true
	}
	for _, track := range e.tracks {
		if track != nil && track.node == node {
			return true
		}
	}
	return false
}

// dispose releases every resource the entity holds. Track loads still in
// flight release their result when they land.
func (e *Entity) dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	r := e.stage.renderer
	for i, track := range e.tracks {
		if track != nil {
			track.release(r)
			e.tracks[i] = nil
		}
	}
	if e.placeholder != nil {
		r.Detach(e.placeholder)
		r.Dispose(e.placeholder)
		e.placeholder = nil
	}
	e.hasActive = false
}

// EntityView is a read-only copy of an entity for hosts and tests.
type EntityView struct {
	ID          string       `json:"id"`
	Instance    string       `json:"instance"`
	Name        string       `json:"name"`
	Value       float64      `json:"value"`
	Trend       Trend        `json:"trend"`
	Skin        string       `json:"skin"`
	Rank        int          `json:"rank"`
	State       State        `json:"state"`
	Moving      bool         `json:"moving"`
	Speaking    bool         `json:"speaking"`
	Placeholder bool         `json:"placeholder"`
	Position    render.Vec3  `json:"position"`
	Anchor      render.Vec3  `json:"anchor"`
	Heading     float64      `json:"heading"`
	Label       render.Label `json:"label"`
	Loaded      []State      `json:"loaded,omitempty"`
}

func (e *Entity) view() EntityView {
	v := EntityView{
		ID:          e.id,
		Instance:    e.instance,
		Name:        e.desc.Name,
		Value:       e.desc.Value,
		Trend:       e.desc.Trend,
		Skin:        e.desc.Skin,
		Rank:        e.desc.Rank,
		State:       e.state,
		Moving:      e.moving(),
		Speaking:    e.speech != nil,
		Placeholder: e.placeholder != nil,
		Position:    e.position,
		Anchor:      e.anchor,
		Heading:     e.heading,
		Label:       e.label,
	}
	for s, track := range e.tracks {
		if track != nil {
			v.Loaded = append(v.Loaded, State(s))
		}
	}
	return v
}
