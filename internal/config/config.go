// Package config loads server configuration from an optional file and
// PARADE_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/scene"
	"holding-parade/server/logging"
)

const EnvPrefix = "PARADE"

type Config struct {
	HTTP    HTTPConfig     `mapstructure:"http"`
	Sim     SimConfig      `mapstructure:"sim"`
	Stream  StreamConfig   `mapstructure:"stream"`
	Scene   scene.Config   `mapstructure:"scene"`
	Assets  AssetsConfig   `mapstructure:"assets"`
	Logging logging.Config `mapstructure:"logging"`
	Feed    FeedConfig     `mapstructure:"feed"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	// Locale selects number formatting of speech messages.
	Locale string `mapstructure:"locale"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxSnapshotSize int64         `mapstructure:"max_snapshot_bytes"`
	ClientDir       string        `mapstructure:"client_dir"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
}

type SimConfig struct {
	TickRate        int `mapstructure:"tick_rate"`
	CatchupMaxTicks int `mapstructure:"catchup_max_ticks"`
}

// StreamConfig tunes the websocket stream to clients.
type StreamConfig struct {
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	InboundRate   float64       `mapstructure:"inbound_rate"`
	InboundBurst  int           `mapstructure:"inbound_burst"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type AssetsConfig struct {
	ManifestPath string             `mapstructure:"manifest_path"`
	Watch        bool               `mapstructure:"watch"`
	Retry        assets.RetryPolicy `mapstructure:"retry"`
	// ModelRoot is prefixed to relative manifest locators.
	ModelRoot string `mapstructure:"model_root"`
}

type FeedConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// MQTTConfig enables the broker feed when Broker is set.
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	Topic          string        `mapstructure:"topic"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MetricsConfig struct {
	Influx InfluxConfig `mapstructure:"influx"`
}

// InfluxConfig enables the counter exporter when URL is set.
type InfluxConfig struct {
	URL      string            `mapstructure:"url"`
	Token    string            `mapstructure:"token"`
	Org      string            `mapstructure:"org"`
	Bucket   string            `mapstructure:"bucket"`
	Interval time.Duration     `mapstructure:"interval"`
	Tags     map[string]string `mapstructure:"tags"`
}

func (c InfluxConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			MaxSnapshotSize: 1 << 20,
		},
		Sim: SimConfig{
			TickRate:        30,
			CatchupMaxTicks: 3,
		},
		Stream: StreamConfig{
			FrameInterval: 100 * time.Millisecond,
			InboundRate:   5,
			InboundBurst:  10,
			WriteTimeout:  10 * time.Second,
		},
		Scene: scene.DefaultConfig(),
		Assets: AssetsConfig{
			ManifestPath: "assets/manifest.yaml",
			Watch:        true,
			Retry:        assets.DefaultRetryPolicy(),
		},
		Logging: logging.DefaultConfig(),
		Feed: FeedConfig{
			MQTT: MQTTConfig{
				Topic:          "parade/holdings",
				ClientID:       "holding-parade",
				QoS:            1,
				ConnectTimeout: 10 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Influx: InfluxConfig{
				Bucket:   "parade",
				Interval: 10 * time.Second,
			},
		},
		Locale: "en",
	}
}

// Load reads path when it is not empty, then applies PARADE_* overrides, for
// example PARADE_HTTP_ADDR or PARADE_SCENE_ROAM_RADIUS.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg.normalized(), nil
}

// setDefaults registers every key of def so AutomaticEnv can override keys
// that never appear in a file.
func setDefaults(v *viper.Viper, def Config) {
	var flat map[string]any
	if err := mapstructure.Decode(def, &flat); err != nil {
		return
	}
	for key, value := range flatten("", flat) {
		v.SetDefault(key, value)
	}
}

func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func (c Config) normalized() Config {
	def := Default()
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = def.HTTP.ShutdownTimeout
	}
	if c.HTTP.MaxSnapshotSize <= 0 {
		c.HTTP.MaxSnapshotSize = def.HTTP.MaxSnapshotSize
	}
	if c.Sim.TickRate <= 0 {
		c.Sim.TickRate = def.Sim.TickRate
	}
	if c.Sim.CatchupMaxTicks <= 0 {
		c.Sim.CatchupMaxTicks = def.Sim.CatchupMaxTicks
	}
	if c.Stream.FrameInterval <= 0 {
		c.Stream.FrameInterval = def.Stream.FrameInterval
	}
	if c.Stream.InboundRate <= 0 {
		c.Stream.InboundRate = def.Stream.InboundRate
	}
	if c.Stream.InboundBurst <= 0 {
		c.Stream.InboundBurst = def.Stream.InboundBurst
	}
	if c.Stream.WriteTimeout <= 0 {
		c.Stream.WriteTimeout = def.Stream.WriteTimeout
	}
	c.Scene = c.Scene.Normalized()
	if c.Logging.BufferSize <= 0 {
		c.Logging.BufferSize = def.Logging.BufferSize
	}
	if c.Feed.MQTT.Topic == "" {
		c.Feed.MQTT.Topic = def.Feed.MQTT.Topic
	}
	if c.Feed.MQTT.ClientID == "" {
		c.Feed.MQTT.ClientID = def.Feed.MQTT.ClientID
	}
	if c.Feed.MQTT.QoS > 2 {
		c.Feed.MQTT.QoS = def.Feed.MQTT.QoS
	}
	if c.Metrics.Influx.Interval <= 0 {
		c.Metrics.Influx.Interval = def.Metrics.Influx.Interval
	}
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = def.Locale
	}
	if c.Feed.MQTT.ConnectTimeout <= 0 {
		c.Feed.MQTT.ConnectTimeout = def.Feed.MQTT.ConnectTimeout
	}
	return c
}
