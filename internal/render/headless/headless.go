// Package headless implements render.Renderer in memory. The server uses it to
// drive the scene without a graphics device and streams the resulting state
// to browser clients; tests use it to observe attach, detach and leaks.
package headless

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"holding-parade/server/internal/render"
)

// ErrUnavailable is returned by Available when the renderer was built without
// graphics capability.
var ErrUnavailable = errors.New("headless: rendering unavailable")

// ModelSpec describes what a locator resolves to.
type ModelSpec struct {
	Clips  []render.Clip
	Height float64
}

// Resolver maps a locator to a model. An error makes the load fail.
type Resolver func(locator string) (ModelSpec, error)

// Options configures a Renderer.
type Options struct {
	Resolver    Resolver
	Latency     time.Duration
	PickRadius  float64
	Unavailable bool
}

type nodeKind int

const (
	kindTemplate nodeKind = iota
	kindClone
	kindPlaceholder
)

// Node is the in-memory node handle.
type Node struct {
	id      uint64
	name    string
	kind    nodeKind
	locator string
	height  float64
	clips   []render.Clip

	visible   bool
	attached  bool
	disposed  bool
	transform render.Transform
	label     render.Label
	color     render.Color
}

func (n *Node) Name() string { return n.name }

// NodeState is a copy of a node's observable state.
type NodeState struct {
	Name        string
	Locator     string
	Placeholder bool
	Visible     bool
	Attached    bool
	Disposed    bool
	Transform   render.Transform
	Label       render.Label
	Color       render.Color
}

type player struct {
	r       *Renderer
	node    *Node
	clip    render.Clip
	playing bool
}

func (p *player) Play() {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.playing = true
}

func (p *player) Stop() {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.playing = false
}

// Renderer is safe for concurrent use.
type Renderer struct {
	opts Options

	mu       sync.Mutex
	nextID   uint64
	nodes    map[*Node]struct{}
	players  map[*Node]*player
	gates    map[string]chan struct{}
	failures map[string]error
	loads    map[string]int
	blocked  int
}

// New builds a renderer. A nil resolver resolves locators that exist on disk.
func New(opts Options) *Renderer {
	if opts.Resolver == nil {
		opts.Resolver = FileResolver
	}
	if opts.PickRadius <= 0 {
		opts.PickRadius = 1
	}
	return &Renderer{
		opts:     opts,
		nodes:    make(map[*Node]struct{}),
		players:  make(map[*Node]*player),
		gates:    make(map[string]chan struct{}),
		failures: make(map[string]error),
		loads:    make(map[string]int),
	}
}

// FileResolver succeeds for any locator naming an existing file and derives
// a single clip from the file name.
func FileResolver(locator string) (ModelSpec, error) {
	info, err := os.Stat(locator)
	if err != nil {
		return ModelSpec{}, errors.Wrapf(err, "stat model %q", locator)
	}
	if info.IsDir() {
		return ModelSpec{}, errors.Newf("model %q is a directory", locator)
	}
	base := strings.TrimSuffix(filepath.Base(locator), filepath.Ext(locator))
	return ModelSpec{Clips: []render.Clip{{Name: base, Duration: 1}}, Height: 1.8}, nil
}

// StaticResolver resolves every locator present in models.
func StaticResolver(models map[string]ModelSpec) Resolver {
	return func(locator string) (ModelSpec, error) {
		spec, ok := models[locator]
		if !ok {
			return ModelSpec{}, errors.Newf("unknown model %q", locator)
		}
		return spec, nil
	}
}

func (r *Renderer) Available() error {
	if r.opts.Unavailable {
		return ErrUnavailable
	}
	return nil
}

func (r *Renderer) LoadModel(ctx context.Context, locator string) (render.Node, []render.Clip, error) {
	r.mu.Lock()
	r.loads[locator]++
	gate := r.gates[locator]
	failure := r.failures[locator]
	if gate != nil {
		r.blocked++
	}
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		r.mu.Lock()
		r.blocked--
		r.mu.Unlock()
	}
	if r.opts.Latency > 0 {
		timer := time.NewTimer(r.opts.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if failure != nil {
		return nil, nil, failure
	}

	spec, err := r.opts.Resolver(locator)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	node := r.newNodeLocked(kindTemplate, locator)
	node.height = spec.Height
	node.clips = append([]render.Clip(nil), spec.Clips...)
	return node, append([]render.Clip(nil), spec.Clips...), nil
}

func (r *Renderer) CloneInstantiable(n render.Node) render.Node {
	src, ok := n.(*Node)
	if !ok || src == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := r.newNodeLocked(kindClone, src.locator)
	clone.height = src.height
	clone.clips = src.clips
	return clone
}

func (r *Renderer) CreatePlayer(n render.Node, clip render.Clip) render.Player {
	node, _ := n.(*Node)
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &player{r: r, node: node, clip: clip}
	if node != nil {
		r.players[node] = p
	}
	return p
}

func (r *Renderer) CreatePlaceholder(color render.Color) render.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	node := r.newNodeLocked(kindPlaceholder, "")
	node.height = 1
	node.color = color
	node.visible = true
	return node
}

func (r *Renderer) Attach(n render.Node) {
	r.withNode(n, func(node *Node) { node.attached = true })
}

func (r *Renderer) Detach(n render.Node) {
	r.withNode(n, func(node *Node) { node.attached = false })
}

func (r *Renderer) Dispose(n render.Node) {
	r.withNode(n, func(node *Node) {
		node.disposed = true
		node.attached = false
		delete(r.players, node)
	})
}

func (r *Renderer) SetVisible(n render.Node, visible bool) {
	r.withNode(n, func(node *Node) { node.visible = visible })
}

func (r *Renderer) SetTransform(n render.Node, t render.Transform) {
	r.withNode(n, func(node *Node) { node.transform = t })
}

func (r *Renderer) SetLabel(n render.Node, label render.Label) {
	r.withNode(n, func(node *Node) { node.label = label })
}

func (r *Renderer) Bounds(n render.Node) render.Bounds {
	var bounds render.Bounds
	r.withNode(n, func(node *Node) {
		bounds = render.Bounds{Max: render.Vec3{Y: node.height}}
	})
	return bounds
}

func (r *Renderer) Pick(p render.Point) (render.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := render.Vec3{X: p.X, Z: p.Y}
	var best *Node
	bestDist := r.opts.PickRadius
	for node := range r.nodes {
		if !node.attached || !node.visible || node.disposed {
			continue
		}
		if d := node.transform.Position.GroundDistance(target); d <= bestDist {
			best, bestDist = node, d
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (r *Renderer) withNode(n render.Node, fn func(*Node)) {
	node, ok := n.(*Node)
	if !ok || node == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(node)
}

func (r *Renderer) newNodeLocked(kind nodeKind, locator string) *Node {
	r.nextID++
	prefix := map[nodeKind]string{kindTemplate: "template", kindClone: "clone", kindPlaceholder: "placeholder"}[kind]
	node := &Node{id: r.nextID, name: fmt.Sprintf("%s-%d", prefix, r.nextID), kind: kind, locator: locator}
	if kind != kindTemplate {
		r.nodes[node] = struct{}{}
	}
	return node
}

// Hold makes loads of locator block until Release is called.
func (r *Renderer) Hold(locator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gates[locator]; !ok {
		r.gates[locator] = make(chan struct{})
	}
}

// Release unblocks every load waiting on locator.
func (r *Renderer) Release(locator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gate, ok := r.gates[locator]; ok {
		close(gate)
		delete(r.gates, locator)
	}
}

// Fail makes subsequent loads of locator return err. A nil err clears it.
func (r *Renderer) Fail(locator string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, locator)
		return
	}
	r.failures[locator] = err
}

// Blocked reports how many loads are waiting on a Hold.
func (r *Renderer) Blocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked
}

// Loads reports how many times locator was requested.
func (r *Renderer) Loads(locator string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads[locator]
}

// Live reports nodes created for instances that have not been disposed.
func (r *Renderer) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for node := range r.nodes {
		if !node.disposed {
			count++
		}
	}
	return count
}

// Attached lists the state of every attached node.
func (r *Renderer) Attached() []NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NodeState
	for node := range r.nodes {
		if node.attached {
			out = append(out, stateOf(node))
		}
	}
	return out
}

// Inspect returns the observable state of n.
func (r *Renderer) Inspect(n render.Node) NodeState {
	var state NodeState
	r.withNode(n, func(node *Node) { state = stateOf(node) })
	return state
}

// Playing reports whether a player created for n is currently playing.
func (r *Renderer) Playing(n render.Node) bool {
	node, ok := n.(*Node)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players[node]
	return p != nil && p.playing
}

func stateOf(node *Node) NodeState {
	return NodeState{
		Name:        node.name,
		Locator:     node.locator,
		Placeholder: node.kind == kindPlaceholder,
		Visible:     node.visible,
		Attached:    node.attached,
		Disposed:    node.disposed,
		Transform:   node.transform,
		Label:       node.label,
		Color:       node.color,
	}
}

var _ render.Renderer = (*Renderer)(nil)
