package scene

import (
	"context"

	"holding-parade/server/internal/assets"
)

// SetupEnvironment places the decoration objects listed in the manifest and
// returns how many were placed. Failed decorations are skipped; without a
// manifest nothing is placed.
func (m *Manager) SetupEnvironment(ctx context.Context) int {
	st := m.st
	manifest := st.manifests.Manifest()
	if manifest == nil {
		st.logger.Printf("scene: %v, skipping environment", assets.ErrManifestMissing)
		return 0
	}
	loadCtx, stop := m.loadContext(ctx)
	defer stop()

	placed := 0
	for _, locator := range manifest.Environment() {
		st.progress.begin(locator)
		inst, err := st.cache.Load(loadCtx, "environment/"+locator, locator)
		st.progress.end()
		if err != nil {
			st.logger.Printf("scene: skipping decoration %s: %v", locator, err)
			if loadCtx.Err() != nil {
				return placed
			}
			continue
		}

		st.mu.Lock()
		if st.disposed {
			st.renderer.Dispose(inst.Node)
			st.mu.Unlock()
			return placed
		}
		st.renderer.Attach(inst.Node)
		st.renderer.SetVisible(inst.Node, true)
		m.environment = append(m.environment, inst.Node)
		st.mu.Unlock()
		placed++
	}
	return placed
}
