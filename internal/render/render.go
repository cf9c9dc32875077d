// Package render declares the renderer capabilities the scene consumes. The
// scene never depends on a concrete graphics backend.
package render

import (
	"context"
	"math"
)

// Node is an opaque handle to a renderer object.
type Node interface {
	Name() string
}

// Clip names one animation carried by a loaded model.
type Clip struct {
	Name     string
	Duration float64
}

// Player plays a single clip on a node.
type Player interface {
	Play()
	Stop()
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// GroundDistance is the distance on the XZ plane.
func (v Vec3) GroundDistance(o Vec3) float64 {
	return math.Hypot(v.X-o.X, v.Z-o.Z)
}

// Transform places a node on the ground plane. Heading is in radians around Y.
type Transform struct {
	Position Vec3
	Heading  float64
}

type Bounds struct {
	Min Vec3
	Max Vec3
}

func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }

// Label is screen-space text anchored above a node. The zero value clears it.
type Label struct {
	Text    string  `json:"text,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
	Anchor  Vec3    `json:"anchor"`
}

// Color is a CSS style color string used for placeholder shapes.
type Color string

// Point is a pointer coordinate handed to Pick.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ModelLoader is the subset of renderer capabilities needed to load and
// instance model templates.
type ModelLoader interface {
	LoadModel(ctx context.Context, locator string) (Node, []Clip, error)
	CloneInstantiable(node Node) Node
}

// Renderer is the full collaborator surface used by the scene.
type Renderer interface {
	ModelLoader

	// Available reports whether graphics capability exists on the host.
	Available() error

	CreatePlayer(node Node, clip Clip) Player
	CreatePlaceholder(color Color) Node

	Attach(node Node)
	Detach(node Node)
	// Dispose frees a node created by CloneInstantiable or CreatePlaceholder.
	Dispose(node Node)

	SetVisible(node Node, visible bool)
	SetTransform(node Node, t Transform)
	SetLabel(node Node, label Label)
	Bounds(node Node) Bounds

	Pick(p Point) (Node, bool)
}
