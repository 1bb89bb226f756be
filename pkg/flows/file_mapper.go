package flows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const defaultDebounce = 500 * time.Millisecond

// mappingFile is the on-disk layout:
//
//	classes:
//	  edge-collector: https://registry.example.com/flows/edge
type mappingFile struct {
	Classes map[string]string `yaml:"classes" validate:"dive,keys,required,endkeys,required,uri"`
}

// FileMapper is a Mapper loaded from a YAML file that can follow edits to it.
type FileMapper struct {
	path     string
	logger   zerolog.Logger
	validate *validator.Validate
	debounce time.Duration

	mu      sync.RWMutex
	classes map[string]string
}

// FileMapperOption configures a FileMapper.
type FileMapperOption func(*FileMapper)

// WithDebounce sets how long Watch waits after the last change before reloading.
func WithDebounce(d time.Duration) FileMapperOption {
	return func(m *FileMapper) { m.debounce = d }
}

// NewFileMapper loads the mapping at path.
func NewFileMapper(path string, logger zerolog.Logger, opts ...FileMapperOption) (*FileMapper, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve flow mapping path: %w", err)
	}

	m := &FileMapper{
		path:     abs,
		logger:   logger.With().Str("component", "flows").Logger(),
		validate: validator.New(),
		debounce: defaultDebounce,
		classes:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// FlowURI implements Mapper.
func (m *FileMapper) FlowURI(className string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uri, ok := m.classes[className]
	return uri, ok
}

// Len returns the number of mapped classes.
func (m *FileMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.classes)
}

// Reload re-reads the mapping file. On error the previous mapping is kept.
func (m *FileMapper) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read flow mapping %s: %w", m.path, err)
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse flow mapping %s: %w", m.path, err)
	}
	if err := m.validate.Struct(&file); err != nil {
		return fmt.Errorf("invalid flow mapping %s: %w", m.path, err)
	}

	classes := file.Classes
	if classes == nil {
		classes = make(map[string]string)
	}

	m.mu.Lock()
	m.classes = classes
	m.mu.Unlock()

	m.logger.Debug().Str("path", m.path).Int("classes", len(classes)).Msg("Loaded flow mapping")
	return nil
}

// Watch reloads the mapping whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are followed.
func (m *FileMapper) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.path), err)
	}

	go m.processEvents(ctx, watcher)

	m.logger.Info().Str("path", m.path).Msg("Started watching flow mapping")
	return nil
}

func (m *FileMapper) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			m.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Flow mapping changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(m.debounce, func() {
				if err := m.Reload(); err != nil {
					m.logger.Error().Err(err).Msg("Failed to reload flow mapping")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
