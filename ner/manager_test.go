package ner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManagerValidateDirectory(t *testing.T) {
	complete := t.TempDir()
	for _, name := range []string{"model.onnx", "tokenizer.json", "label_mappings.json"} {
		if err := os.WriteFile(filepath.Join(complete, name), []byte("{}"), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	partial := t.TempDir()
	if err := os.WriteFile(filepath.Join(partial, "model.onnx"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write model.onnx: %v", err)
	}

	testCases := []struct {
		name      string
		dir       string
		expectErr bool
		errString string
	}{
		{
			name: "complete directory",
			dir:  complete,
		},
		{
			name:      "empty path",
			dir:       "",
			expectErr: true,
			errString: "model directory not configured",
		},
		{
			name:      "missing directory",
			dir:       filepath.Join(complete, "nope"),
			expectErr: true,
		},
		{
			name:      "missing tokenizer",
			dir:       partial,
			expectErr: true,
			errString: "missing model file",
		},
	}

	m := &Manager{}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			files, err := m.validateDirectory(tc.dir)
			if tc.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tc.errString != "" && !strings.Contains(err.Error(), tc.errString) {
					t.Errorf("error = %q, want substring %q", err.Error(), tc.errString)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if files.ModelPath != filepath.Join(tc.dir, "model.onnx") {
				t.Errorf("ModelPath = %s", files.ModelPath)
			}
		})
	}
}

func TestManagerGetUnhealthy(t *testing.T) {
	m := &Manager{}
	if _, err := m.Get(); err == nil {
		t.Error("expected error from unhealthy manager")
	}
	if m.Healthy() {
		t.Error("empty manager reports healthy")
	}
}

func TestManagerWithWrappedProvider(t *testing.T) {
	m := NewManagerWithProvider(&StaticProvider{ProviderName: "fixture"})

	p, err := m.Get()
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name() != "fixture" {
		t.Errorf("Name = %s, want fixture", p.Name())
	}
	if !m.Healthy() {
		t.Error("wrapped manager reports unhealthy")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := m.Get(); err == nil {
		t.Error("expected error after Close")
	}
}
