package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

// ManifestFile is the per-session bookkeeping file.
const ManifestFile = "session.yaml"

// LoadManifest reads session.yaml from dir. A missing file yields nil.
func LoadManifest(dir string) (*models.SessionManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session manifest: %w", err)
	}
	var m models.SessionManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing session manifest: %w", err)
	}
	return &m, nil
}

// TouchManifest creates session.yaml for a new session or bumps the resume
// counter of an existing one.
func TouchManifest(dir, sessionID string, now time.Time) (*models.SessionManifest, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	if m == nil {
		m = &models.SessionManifest{SessionID: sessionID, CreatedAt: now}
	} else {
		m.Resumes++
	}
	m.LastSeen = now

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding session manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing session manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("writing session manifest: %w", err)
	}
	return m, nil
}
