package logging

import "time"

// Config controls which sinks receive scene events and how the router buffers them.
type Config struct {
	EnabledSinks     []string       `mapstructure:"sinks"`
	BufferSize       int            `mapstructure:"buffer_size"`
	MinimumSeverity  Severity       `mapstructure:"minimum_severity"`
	Fields           map[string]any `mapstructure:"fields"`
	JSON             JSONConfig     `mapstructure:"json"`
	DropWarnInterval time.Duration  `mapstructure:"drop_warn_interval"`
}

type JSONConfig struct {
	FilePath      string        `mapstructure:"file_path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
