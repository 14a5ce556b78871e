package download

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"modelhub/internal/events"
	"modelhub/internal/provider"
)

// dirWatcher observes the models directory for out-of-band deletions.
// A model file the user removes behind our back resets the download
// state so the model can be fetched again, and subscribers hear about
// the removal.
type dirWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newDirWatcher(ctx context.Context, m *Manager) (*dirWatcher, error) {
	if m.modelsDir == "" {
		return nil, provider.NewError(provider.KindConfiguration, "models directory is not configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, provider.WrapError(provider.KindInternal, "failed to create directory watcher", err)
	}
	if err := watcher.Add(m.modelsDir); err != nil {
		watcher.Close()
		return nil, provider.WrapError(provider.KindInternal, "failed to watch models directory", err)
	}

	w := &dirWatcher{watcher: watcher, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					m.handleFileRemoved(filepath.Base(event.Name))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("download.watch.error", "Models directory watcher error", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()

	return w, nil
}

func (w *dirWatcher) close() {
	w.watcher.Close()
	<-w.done
}

// handleFileRemoved resets the state of a completed model whose file
// vanished from the models directory. Partial files and renames that
// belong to active transfers are left alone.
func (m *Manager) handleFileRemoved(name string) {
	if strings.HasSuffix(name, ".partial") || strings.HasSuffix(name, ".tmp") {
		return
	}

	m.mu.Lock()
	var removed *Key
	for k, tk := range m.tasks {
		if k.ModelID != name {
			continue
		}
		if tk.state.Status == provider.StatusCompleted {
			delete(m.tasks, k)
			removed = &k
		}
		break
	}
	m.mu.Unlock()

	if removed == nil {
		return
	}
	m.persistStates()

	m.bus.Publish(events.Event{
		Type:     events.ModelRemoved,
		Provider: removed.Provider,
		ModelID:  removed.ModelID,
	})
	m.logger.Info("download.file_removed", "Model file removed outside the hub", map[string]interface{}{
		"model": removed.String(),
	})
}
