package app

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"holding-parade/server/logging"
	loggingSinks "holding-parade/server/logging/sinks"
)

// buildSinks constructs the configured event sinks. The returned closer
// releases files opened for them and must run after the router is closed.
func buildSinks(cfg logging.Config, log *logrus.Logger) ([]logging.NamedSink, func(), error) {
	var (
		named []logging.NamedSink
		files []io.Closer
	)
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsoleWithLogger(log)})
		case "json":
			var w io.Writer = os.Stdout
			if cfg.JSON.FilePath != "" {
				f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					closeFiles()
					return nil, nil, errors.Wrapf(err, "open json event log %s", cfg.JSON.FilePath)
				}
				files = append(files, f)
				w = f
			}
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewJSON(w, cfg.JSON.FlushInterval)})
		case "zap":
			sink, err := loggingSinks.NewZap(nil)
			if err != nil {
				closeFiles()
				return nil, nil, errors.Wrap(err, "build zap event sink")
			}
			named = append(named, logging.NamedSink{Name: name, Sink: sink})
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewMemorySink()})
		default:
			log.Warnf("ignoring unknown event sink %q", name)
		}
	}
	return named, closeFiles, nil
}
