package scene

import (
	"math"
	"strings"
)

const (
	DefaultFallbackSkin = "villager"
	DefaultRoamRadius   = 12.0
	DefaultRunSpeed     = 2.0
	DefaultGridSpacing  = 3.0
	DefaultMaxTickDelta = 0.1
)

// Config tunes the scene. Durations are seconds so they combine directly with
// the tick delta.
type Config struct {
	FallbackSkin string  `mapstructure:"fallback_skin"`
	RoamRadius   float64 `mapstructure:"roam_radius"`
	RunSpeed     float64 `mapstructure:"run_speed"`
	GridSpacing  float64 `mapstructure:"grid_spacing"`
	MaxTickDelta float64 `mapstructure:"max_tick_delta"`

	DirectionMin   float64 `mapstructure:"direction_min"`
	DirectionMax   float64 `mapstructure:"direction_max"`
	TurnRate       float64 `mapstructure:"turn_rate"`
	HeadingDamping float64 `mapstructure:"heading_damping"`
	ViewerHeading  float64 `mapstructure:"viewer_heading"`
	LabelMargin    float64 `mapstructure:"label_margin"`

	RunMin        float64 `mapstructure:"run_min"`
	RunMax        float64 `mapstructure:"run_max"`
	CheerDuration float64 `mapstructure:"cheer_duration"`

	SpeechIntervalMin float64 `mapstructure:"speech_interval_min"`
	SpeechIntervalMax float64 `mapstructure:"speech_interval_max"`
	SpeechDisplay     float64 `mapstructure:"speech_display"`
	SpeechFade        float64 `mapstructure:"speech_fade"`
}

func DefaultConfig() Config {
	return Config{
		FallbackSkin:      DefaultFallbackSkin,
		RoamRadius:        DefaultRoamRadius,
		RunSpeed:          DefaultRunSpeed,
		GridSpacing:       DefaultGridSpacing,
		MaxTickDelta:      DefaultMaxTickDelta,
		DirectionMin:      2,
		DirectionMax:      5,
		TurnRate:          3,
		HeadingDamping:    8,
		ViewerHeading:     0,
		LabelMargin:       0.3,
		RunMin:            5,
		RunMax:            10,
		CheerDuration:     2,
		SpeechIntervalMin: 10,
		SpeechIntervalMax: 30,
		SpeechDisplay:     5,
		SpeechFade:        1,
	}
}

func (cfg Config) normalized() Config {
	def := DefaultConfig()
	n := cfg
	n.FallbackSkin = strings.TrimSpace(n.FallbackSkin)
	if n.FallbackSkin == "" {
		n.FallbackSkin = def.FallbackSkin
	}
	positive := func(v *float64, fallback float64) {
		if *v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = fallback
		}
	}
	positive(&n.RoamRadius, def.RoamRadius)
	positive(&n.RunSpeed, def.RunSpeed)
	positive(&n.GridSpacing, def.GridSpacing)
	positive(&n.MaxTickDelta, def.MaxTickDelta)
	positive(&n.DirectionMin, def.DirectionMin)
	positive(&n.DirectionMax, def.DirectionMax)
	positive(&n.TurnRate, def.TurnRate)
	positive(&n.HeadingDamping, def.HeadingDamping)
	positive(&n.LabelMargin, def.LabelMargin)
	positive(&n.RunMin, def.RunMin)
	positive(&n.RunMax, def.RunMax)
	positive(&n.CheerDuration, def.CheerDuration)
	positive(&n.SpeechIntervalMin, def.SpeechIntervalMin)
	positive(&n.SpeechIntervalMax, def.SpeechIntervalMax)
	positive(&n.SpeechDisplay, def.SpeechDisplay)
	positive(&n.SpeechFade, def.SpeechFade)
	if n.DirectionMax < n.DirectionMin {
		n.DirectionMax = n.DirectionMin
	}
	if n.RunMax < n.RunMin {
		n.RunMax = n.RunMin
	}
	if n.SpeechIntervalMax < n.SpeechIntervalMin {
		n.SpeechIntervalMax = n.SpeechIntervalMin
	}
	return n
}

// Normalized returns cfg with defaults filled in for unset or invalid fields.
func (cfg Config) Normalized() Config {
	return cfg.normalized()
}

// WalkSpeed is half the run speed.
func (cfg Config) WalkSpeed() float64 {
	return cfg.RunSpeed / 2
}

func (cfg Config) speedFor(s State) float64 {
	switch s {
	case StateRunning:
		return cfg.RunSpeed
	case StateWalking:
		return cfg.WalkSpeed()
	default:
		return 0
	}
}
