package download

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"modelhub/internal/fsutil"
	"modelhub/internal/provider"
)

const stateFileName = "downloads.json"

func stateFilePath(stateDir string) string {
	return filepath.Join(stateDir, stateFileName)
}

type stateFile struct {
	Downloads map[string]provider.DownloadState `json:"downloads"`
}

// persistStates writes all non-trivial download states atomically.
// Progress ticks are not persisted; only lifecycle transitions call
// this, so a crash costs at most the current progress payload.
func (m *Manager) persistStates() {
	m.mu.Lock()
	snapshot := stateFile{Downloads: make(map[string]provider.DownloadState, len(m.tasks))}
	for k, tk := range m.tasks {
		if tk.state.Status == provider.StatusNotStarted {
			continue
		}
		snapshot.Downloads[k.String()] = tk.state
	}
	path := m.statePath
	m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		m.logger.Warn("download.state.marshal_failed", "Could not serialize download states", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if err := fsutil.AtomicWriteFile(path, data, fsutil.DefaultFilePermissions, m.logger); err != nil {
		m.logger.Warn("download.state.write_failed", "Could not persist download states", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// loadStates restores persisted states. A transfer that was in progress
// when the previous process exited is recorded as failed; its partial
// file stays on disk so a retry resumes where it stopped.
func (m *Manager) loadStates() error {
	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snapshot stateFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for raw, state := range snapshot.Downloads {
		key, ok := parseKey(raw)
		if !ok {
			continue
		}
		if err := state.Validate(); err != nil {
			m.logger.Warn("download.state.invalid", "Dropping invalid persisted state", map[string]interface{}{
				"model": raw,
				"error": err.Error(),
			})
			continue
		}

		if state.Active() {
			state = provider.Failed("interrupted by restart", "interrupted", time.Now().UTC())
		}

		m.tasks[key] = &task{
			handle: uuid.New(),
			state:  state,
		}
	}

	return nil
}

func parseKey(raw string) (Key, bool) {
	idx := strings.Index(raw, "/")
	if idx <= 0 || idx == len(raw)-1 {
		return Key{}, false
	}
	return Key{
		Provider: provider.Type(raw[:idx]),
		ModelID:  raw[idx+1:],
	}, true
}
