package assets

import (
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	animationsSuffix = "Animations"
	environmentKey   = "environment"
)

// ErrManifestMissing marks a manifest, or a manifest entry, that could not be
// found. Callers degrade instead of failing.
var ErrManifestMissing = errors.New("asset manifest missing")

// Manifest maps "<skin>Animations" keys to track-type -> locator tables and
// lists environment decoration locators. The file is YAML; JSON parses too.
type Manifest struct {
	skins       map[string]map[string]string
	environment []string
	problems    []string
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Mark(errors.Wrapf(err, "read manifest %s", path), ErrManifestMissing)
		}
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes. Malformed entries are skipped and
// reported through Problems; only an undecodable document is an error.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	m := &Manifest{skins: make(map[string]map[string]string)}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		node := raw[key]
		switch {
		case key == environmentKey:
			var locators []string
			if err := node.Decode(&locators); err != nil {
				m.problems = append(m.problems, "environment: expected a list of locators")
				continue
			}
			for _, locator := range locators {
				if strings.TrimSpace(locator) != "" {
					m.environment = append(m.environment, locator)
				}
			}
		case strings.HasSuffix(key, animationsSuffix) && len(key) > len(animationsSuffix):
			var tracks map[string]string
			if err := node.Decode(&tracks); err != nil {
				m.problems = append(m.problems, key+": expected a track -> locator map")
				continue
			}
			cleaned := make(map[string]string, len(tracks))
			for track, locator := range tracks {
				if strings.TrimSpace(locator) == "" {
					m.problems = append(m.problems, key+"."+track+": empty locator")
					continue
				}
				cleaned[track] = locator
			}
			if len(cleaned) == 0 {
				m.problems = append(m.problems, key+": no usable tracks")
				continue
			}
			m.skins[strings.TrimSuffix(key, animationsSuffix)] = cleaned
		}
	}
	return m, nil
}

// Tracks returns the track table for skin.
func (m *Manifest) Tracks(skin string) (map[string]string, bool) {
	if m == nil {
		return nil, false
	}
	tracks, ok := m.skins[skin]
	return tracks, ok
}

// Locator resolves one track of one skin.
func (m *Manifest) Locator(skin, track string) (string, bool) {
	tracks, ok := m.Tracks(skin)
	if !ok {
		return "", false
	}
	locator, ok := tracks[track]
	return locator, ok
}

// Resolve returns skin when the manifest knows it, otherwise fallback when
// that is known. The error is marked ErrManifestMissing when neither is.
func (m *Manifest) Resolve(skin, fallback string) (string, error) {
	if m == nil {
		return "", errors.Mark(errors.New("no manifest loaded"), ErrManifestMissing)
	}
	if _, ok := m.skins[skin]; ok {
		return skin, nil
	}
	if _, ok := m.skins[fallback]; ok {
		return fallback, nil
	}
	return "", errors.Mark(errors.Newf("no animations for skin %q or fallback %q", skin, fallback), ErrManifestMissing)
}

func (m *Manifest) Skins() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.skins))
	for skin := range m.skins {
		out = append(out, skin)
	}
	sort.Strings(out)
	return out
}

func (m *Manifest) Environment() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.environment...)
}

// Problems lists entries that were skipped while parsing.
func (m *Manifest) Problems() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.problems...)
}

// ManifestStore holds the current manifest and lets a watcher swap it.
type ManifestStore struct {
	current atomic.Pointer[Manifest]
}

func NewManifestStore(m *Manifest) *ManifestStore {
	store := &ManifestStore{}
	store.current.Store(m)
	return store
}

// Manifest returns the current manifest, which may be nil.
func (s *ManifestStore) Manifest() *Manifest {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

func (s *ManifestStore) Store(m *Manifest) {
	s.current.Store(m)
}
