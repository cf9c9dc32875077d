package scene

import (
	"context"
	"math/rand"
	"sync"

	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/render"
	"holding-parade/server/internal/telemetry"
	"holding-parade/server/logging"
	loadingevents "holding-parade/server/logging/loading"
)

// stage is the state shared by the manager and its entities. mu is the scene
// execution context: every entity mutation happens while holding it, and
// asynchronous loads re-acquire it before touching the scene.
type stage struct {
	mu       sync.Mutex
	ctx      context.Context
	disposed bool
	tick     uint64

	cfg       Config
	renderer  render.Renderer
	cache     *assets.Cache
	manifests *assets.ManifestStore
	rng       *rand.Rand
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	progress  *progress

	// loads tracks lazy track loads started by entities.
	loads sync.WaitGroup
}

// progress counts outstanding loads and reports them to the host. It has its
// own lock so hooks never run under the scene lock.
type progress struct {
	mu          sync.Mutex
	outstanding int
	hook        func(label string, complete bool)
	publisher   logging.Publisher
}

func (p *progress) begin(label string) {
	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()
	p.emit(label, false)
}

func (p *progress) end() {
	p.mu.Lock()
	p.outstanding--
	done := p.outstanding == 0
	p.mu.Unlock()
	if done {
		p.emit("", true)
	}
}

func (p *progress) emit(label string, complete bool) {
	loadingevents.Progress(context.Background(), p.publisher, 0, loadingevents.ProgressPayload{Label: label, Complete: complete})
	if p.hook != nil {
		p.hook(label, complete)
	}
}

type noopMetrics struct{}

func (noopMetrics) Add(string, uint64)   {}
func (noopMetrics) Store(string, uint64) {}
