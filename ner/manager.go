package ner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Manager owns the model-backed provider lifecycle with thread-safe hot
// reload. Get hands out the current provider; Reload validates and loads a
// new model directory, swaps it in atomically and closes the old provider.
type Manager struct {
	mu       sync.RWMutex
	current  Provider
	modelDir string
	healthy  bool
	lastErr  error
}

// modelFiles holds the resolved paths inside one model directory.
type modelFiles struct {
	ModelPath     string
	TokenizerPath string
	LabelMapPath  string
}

// NewManager creates a manager and attempts an initial load from dir. A
// failed initial load does not fail construction; the manager starts
// unhealthy and the model can be reloaded later.
func NewManager(dir string) *Manager {
	m := &Manager{modelDir: dir}

	if err := m.Reload(dir); err != nil {
		log.Printf("[Manager] Warning: failed to load initial model: %v", err)
		log.Printf("[Manager] starting unhealthy, reload to recover")
	}
	return m
}

// NewManagerWithProvider wraps an already-constructed provider (regex,
// sidecar, fixture). Reload is not supported for wrapped providers.
func NewManagerWithProvider(p Provider) *Manager {
	return &Manager{current: p, healthy: true}
}

// Get returns the current provider in a thread-safe manner.
func (m *Manager) Get() (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.healthy {
		return nil, fmt.Errorf("model is unhealthy: %w", m.lastErr)
	}
	if m.current == nil {
		return nil, fmt.Errorf("no provider available")
	}
	return m.current, nil
}

// Reload loads the model from dir, validates it with a test inference and
// swaps it in. On any failure the previous provider keeps serving if it was
// healthy; otherwise the manager stays unhealthy.
func (m *Manager) Reload(dir string) error {
	log.Printf("[Manager] reloading model from directory: %s", dir)

	files, err := m.validateDirectory(dir)
	if err != nil {
		m.recordFailure(err)
		return fmt.Errorf("validation failed: %w", err)
	}

	// Build outside the lock to keep Get callers unblocked.
	next, err := NewONNXProvider(files.ModelPath, files.TokenizerPath, files.LabelMapPath)
	if err != nil {
		m.recordFailure(err)
		return fmt.Errorf("failed to load model: %w", err)
	}

	// One validation pass so a broken export never goes live.
	if _, err := next.Recognize(context.Background(), "Validation run with John Smith"); err != nil {
		if closeErr := next.Close(); closeErr != nil {
			log.Printf("[Manager] Warning: failed to close rejected provider: %v", closeErr)
		}
		m.recordFailure(err)
		return fmt.Errorf("model validation failed: %w", err)
	}

	m.mu.Lock()
	old := m.current
	m.current = next
	m.modelDir = dir
	m.healthy = true
	m.lastErr = nil
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("[Manager] Warning: failed to close previous provider: %v", err)
		}
	}

	log.Printf("[Manager] model reloaded from %s", dir)
	return nil
}

// ModelDir returns the directory of the currently loaded model.
func (m *Manager) ModelDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelDir
}

// Healthy reports whether Get would succeed.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && m.current != nil
}

// Close releases the current provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.healthy = false
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

// recordFailure marks the manager unhealthy only when there is no provider
// already serving; a failed reload must not take down a working model.
func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.healthy = false
	}
	m.lastErr = err
}

// validateDirectory checks that dir contains the three files a model export
// consists of and returns their paths.
func (m *Manager) validateDirectory(dir string) (modelFiles, error) {
	if dir == "" {
		return modelFiles{}, fmt.Errorf("model directory not configured")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return modelFiles{}, fmt.Errorf("model directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return modelFiles{}, fmt.Errorf("model path %s is not a directory", dir)
	}

	files := modelFiles{
		ModelPath:     filepath.Join(dir, "model.onnx"),
		TokenizerPath: filepath.Join(dir, "tokenizer.json"),
		LabelMapPath:  filepath.Join(dir, "label_mappings.json"),
	}
	for _, path := range []string{files.ModelPath, files.TokenizerPath, files.LabelMapPath} {
		if _, err := os.Stat(path); err != nil {
			return modelFiles{}, fmt.Errorf("missing model file %s: %w", path, err)
		}
	}
	return files, nil
}
