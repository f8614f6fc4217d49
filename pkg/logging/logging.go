package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/config"
)

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           out,
		TimeFormat:    time.RFC3339,
		PartsOrder:    []string{"time", "level", "component", "message"},
		FieldsExclude: []string{"component"},
	}
}

// New returns a console logger tagged with component.
func New(component string) zerolog.Logger {
	return NewWriter(os.Stdout, component)
}

// NewWriter is New writing to out.
func NewWriter(out io.Writer, component string) zerolog.Logger {
	return zerolog.New(consoleWriter(out)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Configure applies logging settings from config and returns the derived logger.
func Configure(logger zerolog.Logger, cfg config.LoggingConfig) (zerolog.Logger, error) {
	if cfg.Level != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return logger, err
		}
		logger = logger.Level(level)
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return logger, err
		}
		writer, err := newRollingFile(cfg.FilePath, cfg.FileMaxSize)
		if err != nil {
			return logger, err
		}
		logger = logger.Output(zerolog.MultiLevelWriter(consoleWriter(os.Stdout), writer))
	}
	return logger, nil
}

// rollingFile keeps a single .1 backup once the file exceeds max megabytes.
type rollingFile struct {
	mu   sync.Mutex
	path string
	max  int
	file *os.File
}

func newRollingFile(path string, maxMB int) (*rollingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &rollingFile{path: path, max: maxMB, file: f}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size()+int64(len(p)) > int64(r.max)*1024*1024 {
			r.file.Close()
			os.Rename(r.path, r.path+".1")
			newFile, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return 0, err
			}
			r.file = newFile
		}
	}
	return r.file.Write(p)
}
