package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProjectConfig is persisted twice: as <projectDir>/config.json in the
// data root and as the in-repo marker .codeindex/project.json. The marker
// is what makes a checkout self-describing; the data-root copy is what
// the service trusts when deciding whether the embedder changed.
type ProjectConfig struct {
	ProjectID     string    `json:"projectId"`
	EmbedderModel string    `json:"embedderModel"`
	Dim           int       `json:"dim"`
	CreatedAt     time.Time `json:"createdAt"`
}

// saveJSON writes v atomically (temp file then rename), the teacher's
// settings-save idiom, so a crash never leaves a half-written config
// behind.
func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func loadProjectConfig(path string) (ProjectConfig, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ProjectConfig{}, false, nil
	}
	if err != nil {
		return ProjectConfig{}, false, err
	}
	var pc ProjectConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return ProjectConfig{}, false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return pc, true, nil
}
