package assets

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
villagerAnimations:
  walking: models/villager/walk.glb
  running: models/villager/run.glb
knightAnimations:
  walking: models/knight/walk.glb
  talking: ""
brokenAnimations: "not a map"
environment:
  - models/env/tree.glb
  - ""
iconAtlas: icons.png
`

func TestParseManifestKeepsUsableEntries(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, []string{"knight", "villager"}, m.Skins())
	locator, ok := m.Locator("villager", "running")
	require.True(t, ok)
	assert.Equal(t, "models/villager/run.glb", locator)

	_, ok = m.Locator("knight", "talking")
	assert.False(t, ok, "empty locators are skipped")

	assert.Equal(t, []string{"models/env/tree.glb"}, m.Environment())
	assert.Len(t, m.Problems(), 2)
}

func TestParseManifestAcceptsJSON(t *testing.T) {
	m, err := ParseManifest([]byte(`{"goblinAnimations": {"walking": "g.glb"}}`))
	require.NoError(t, err)
	locator, ok := m.Locator("goblin", "walking")
	require.True(t, ok)
	assert.Equal(t, "g.glb", locator)
}

func TestParseManifestRejectsGarbage(t *testing.T) {
	_, err := ParseManifest([]byte("- just\n- a list"))
	require.Error(t, err)
}

func TestResolveFallsBackToDefaultSkin(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	skin, err := m.Resolve("knight", "villager")
	require.NoError(t, err)
	assert.Equal(t, "knight", skin)

	skin, err = m.Resolve("wizard", "villager")
	require.NoError(t, err)
	assert.Equal(t, "villager", skin)

	_, err = m.Resolve("wizard", "dragon")
	assert.True(t, errors.Is(err, ErrManifestMissing))

	var missing *Manifest
	_, err = missing.Resolve("villager", "villager")
	assert.True(t, errors.Is(err, ErrManifestMissing))
	assert.Nil(t, missing.Environment())
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifestMissing))
}

func TestManifestStoreSwaps(t *testing.T) {
	first, _ := ParseManifest([]byte(`aAnimations: {walking: a.glb}`))
	second, _ := ParseManifest([]byte(`bAnimations: {walking: b.glb}`))
	store := NewManifestStore(first)
	assert.Same(t, first, store.Manifest())
	store.Store(second)
	assert.Same(t, second, store.Manifest())

	var nilStore *ManifestStore
	assert.Nil(t, nilStore.Manifest())
}
