// Package logger builds the operational logrus logger shared by the server.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config selects level and output format. Values come from LOG_LEVEL and
// LOG_FORMAT when parsed with FromEnv.
type Config struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// FromEnv reads the logger configuration from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{Level: "info", Format: "text"}, err
	}
	return cfg, nil
}

// New builds a logger writing to w (stdout when nil). Unknown levels fall back
// to info.
func New(cfg Config, w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stdout
	}
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// "json" for log collection, anything else is the developer text format.
	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.SetOutput(w)
	return log
}
