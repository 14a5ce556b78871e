// Package download orchestrates model transfers: a bounded worker pool
// runs adapter pulls, a per-model state machine tracks their lifecycle,
// and a disk quota is enforced both at admission and at completion.
// State transitions and disk accounting share one lock so usage numbers
// never drift from the states they belong to.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"modelhub/internal/catalog"
	"modelhub/internal/config"
	"modelhub/internal/events"
	"modelhub/internal/fsutil"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
	"modelhub/internal/registry"
)

const defaultProgressInterval = 200 * time.Millisecond

// Key identifies one download per provider and model
type Key struct {
	Provider provider.Type
	ModelID  string
}

func (k Key) String() string {
	return string(k.Provider) + "/" + k.ModelID
}

type task struct {
	handle       uuid.UUID
	state        provider.DownloadState
	cancel       context.CancelFunc
	startedAt    time.Time
	declaredSize int64
}

// Manager owns all download state. One instance serves the whole hub.
type Manager struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	bus      *events.Bus
	logger   *logging.Logger

	modelsDir        string
	statePath        string
	progressInterval time.Duration

	sem *semaphore.Weighted

	mu         sync.Mutex
	tasks      map[Key]*task
	limitBytes int64

	wg      sync.WaitGroup
	watcher *dirWatcher
}

// NewManager builds the manager and restores persisted download states.
// Transfers that were running when the previous process exited come
// back as failed; their partial files stay on disk for resumption.
func NewManager(reg *registry.Registry, cat *catalog.Catalog, bus *events.Bus, cfg *config.Config, logger *logging.Logger) (*Manager, error) {
	stateDir := fsutil.GetStateDir(fsutil.DefaultStateDir)
	if err := fsutil.EnsureStateDirectory(stateDir); err != nil {
		return nil, provider.WrapError(provider.KindInternal, "failed to prepare state directory", err)
	}

	maxConcurrent := cfg.Downloads.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	progressInterval := time.Duration(cfg.Downloads.ProgressIntervalMS) * time.Millisecond
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}

	m := &Manager{
		registry:         reg,
		catalog:          cat,
		bus:              bus,
		logger:           logger,
		modelsDir:        cfg.ModelsDirectory,
		statePath:        stateFilePath(stateDir),
		progressInterval: progressInterval,
		sem:              semaphore.NewWeighted(int64(maxConcurrent)),
		tasks:            make(map[Key]*task),
		limitBytes:       cfg.MaxDiskSpaceBytes,
	}

	if err := m.loadStates(); err != nil {
		logger.Warn("download.state.load_failed", "Could not restore download states", map[string]interface{}{
			"path":  m.statePath,
			"error": err.Error(),
		})
	}

	return m, nil
}

// Start launches the models-directory watcher. Optional; the manager
// works without it, it just will not notice out-of-band file deletions.
func (m *Manager) Start(ctx context.Context) error {
	watcher, err := newDirWatcher(ctx, m)
	if err != nil {
		return err
	}
	m.watcher = watcher
	return nil
}

// Close cancels active transfers and waits for the workers to exit
func (m *Manager) Close() {
	m.mu.Lock()
	for _, t := range m.tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()

	if m.watcher != nil {
		m.watcher.close()
	}
}

// StartDownload admits a download and returns its handle. A second call
// for the same model while a transfer is active returns the existing
// handle instead of starting another transfer.
func (m *Manager) StartDownload(ctx context.Context, t provider.Type, modelID string) (uuid.UUID, error) {
	resolved, adapter, err := m.registry.Resolve(t)
	if err != nil {
		return uuid.Nil, err
	}

	entry, _ := m.catalog.Lookup(resolved, modelID)
	declared := entry.SizeBytes

	key := Key{Provider: resolved, ModelID: modelID}

	m.mu.Lock()
	// An active transfer is deduplicated onto its existing handle, and a
	// completed model is not fetched again; only failed, cancelled, or
	// deleted models restart.
	if existing, ok := m.tasks[key]; ok &&
		(existing.state.Active() || existing.state.Status == provider.StatusCompleted) {
		handle := existing.handle
		status := existing.state.Status
		m.mu.Unlock()
		m.logger.Debug("download.dedup", "Reusing existing download", map[string]interface{}{
			"model":  key.String(),
			"status": string(status),
		})
		return handle, nil
	}

	// Admission control. The declared size plus everything already on
	// disk and everything other active transfers will add must fit the
	// quota. Failure leaves the state untouched.
	if m.limitBytes > 0 {
		used := m.usedBytesLocked()
		pending := m.pendingBytesLocked()
		if used+pending+declared > m.limitBytes {
			m.mu.Unlock()
			return uuid.Nil, provider.Errorf(provider.KindQuotaExceeded,
				"download of %d bytes would exceed the %d byte disk limit (%d in use, %d pending)",
				declared, m.limitBytes, used, pending)
		}
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tk := &task{
		handle:       uuid.New(),
		state:        provider.InProgress(provider.Progress{TotalBytes: declared}),
		cancel:       cancel,
		startedAt:    time.Now().UTC(),
		declaredSize: declared,
	}
	m.tasks[key] = tk
	handle := tk.handle
	m.mu.Unlock()

	m.persistStates()

	m.logger.Info("download.started", "Download admitted", map[string]interface{}{
		"model":          key.String(),
		"declared_bytes": declared,
	})

	m.wg.Add(1)
	go m.run(workerCtx, key, adapter)

	return handle, nil
}

// Status returns the state for one model. Never-requested models are
// not started.
func (m *Manager) Status(t provider.Type, modelID string) provider.DownloadState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tk, ok := m.tasks[Key{Provider: t, ModelID: modelID}]; ok {
		return tk.state
	}
	return provider.NotStarted()
}

// States returns a snapshot of every tracked download
func (m *Manager) States() map[Key]provider.DownloadState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Key]provider.DownloadState, len(m.tasks))
	for k, tk := range m.tasks {
		out[k] = tk.state
	}
	return out
}

// Cancel requests cooperative cancellation. Cancelling a download that
// is not running is a no-op, including repeated cancellation.
func (m *Manager) Cancel(t provider.Type, modelID string) error {
	key := Key{Provider: t, ModelID: modelID}

	m.mu.Lock()
	tk, ok := m.tasks[key]
	if !ok || !tk.state.Active() {
		m.mu.Unlock()
		return nil
	}

	tk.state = provider.Cancelled(time.Now().UTC())
	cancel := tk.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.persistStates()

	m.logger.Info("download.cancelled", "Download cancelled", map[string]interface{}{
		"model": key.String(),
	})
	return nil
}

// DiskUsage reports quota accounting. Usage and states come from the
// same critical section, so a concurrent completion is either fully
// counted or not at all.
func (m *Manager) DiskUsage() provider.DiskUsageInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.usedBytesLocked()
	count := 0
	for _, tk := range m.tasks {
		if tk.state.Status == provider.StatusCompleted {
			count++
		}
	}

	info := provider.DiskUsageInfo{
		UsedBytes:  used,
		LimitBytes: m.limitBytes,
		ModelCount: count,
	}
	if m.limitBytes > 0 && m.limitBytes > used {
		info.AvailableBytes = m.limitBytes - used
	}
	return info
}

// SetLimit updates the disk quota. Models already on disk are not
// evicted when the new limit is lower; only future admissions see it.
func (m *Manager) SetLimit(bytes int64) error {
	if bytes < 0 {
		return provider.NewError(provider.KindConfiguration, "disk limit must not be negative")
	}

	m.mu.Lock()
	m.limitBytes = bytes
	m.mu.Unlock()

	m.logger.Info("download.limit_changed", "Disk limit updated", map[string]interface{}{
		"limit_bytes": bytes,
	})
	return nil
}

// EvictOldest deletes the completed model whose download finished
// longest ago and resets its state. Returns the evicted model id.
func (m *Manager) EvictOldest(ctx context.Context) (string, error) {
	m.mu.Lock()
	var oldestKey Key
	var oldestAt time.Time
	found := false
	for k, tk := range m.tasks {
		if tk.state.Status != provider.StatusCompleted {
			continue
		}
		at := tk.state.Completion.CompletedAt
		if !found || at.Before(oldestAt) {
			oldestKey, oldestAt, found = k, at, true
		}
	}
	m.mu.Unlock()

	if !found {
		return "", provider.NewError(provider.KindUnknownModel, "no completed downloads to evict")
	}

	adapter, err := m.registry.Adapter(oldestKey.Provider)
	if err != nil {
		return "", err
	}
	if err := adapter.DeleteModel(ctx, oldestKey.ModelID); err != nil {
		return "", err
	}

	m.mu.Lock()
	delete(m.tasks, oldestKey)
	m.mu.Unlock()
	m.persistStates()

	m.bus.Publish(events.Event{
		Type:     events.ModelRemoved,
		Provider: oldestKey.Provider,
		ModelID:  oldestKey.ModelID,
	})

	m.logger.Info("download.evicted", "Oldest model evicted", map[string]interface{}{
		"model":        oldestKey.String(),
		"completed_at": oldestAt.Format(time.RFC3339),
	})
	return oldestKey.ModelID, nil
}

// Delete removes a model through its adapter and clears its state
func (m *Manager) Delete(ctx context.Context, t provider.Type, modelID string) error {
	resolved, adapter, err := m.registry.Resolve(t)
	if err != nil {
		return err
	}

	key := Key{Provider: resolved, ModelID: modelID}

	m.mu.Lock()
	if tk, ok := m.tasks[key]; ok && tk.state.Active() {
		m.mu.Unlock()
		return provider.NewError(provider.KindInternal, "cannot delete a model while its download is active")
	}
	m.mu.Unlock()

	if err := adapter.DeleteModel(ctx, modelID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tasks, key)
	m.mu.Unlock()
	m.persistStates()

	m.bus.Publish(events.Event{
		Type:     events.ModelRemoved,
		Provider: resolved,
		ModelID:  modelID,
	})
	return nil
}

// run is the transfer worker. It holds a semaphore slot for the whole
// transfer, consumes the adapter's progress stream, and performs the
// terminal transition.
func (m *Manager) run(ctx context.Context, key Key, adapter provider.Provider) {
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finishCancelled(key)
		return
	}
	defer m.sem.Release(1)

	// Cancelled while queued
	m.mu.Lock()
	tk, ok := m.tasks[key]
	if !ok || !tk.state.Active() {
		m.mu.Unlock()
		return
	}
	startedAt := tk.startedAt
	m.mu.Unlock()

	progressCh := make(chan provider.PullProgress, 64)
	pullDone := make(chan error, 1)
	go func() {
		pullDone <- adapter.PullModel(ctx, key.ModelID, progressCh)
	}()

	var lastBytes int64
	var lastEmit time.Time
	var pullErr error

consume:
	for {
		select {
		case p := <-progressCh:
			// Resumed transfers may replay earlier offsets; progress
			// only ever moves forward.
			if p.BytesDownloaded < lastBytes {
				continue
			}
			lastBytes = p.BytesDownloaded

			prog := buildProgress(p, startedAt)
			m.mu.Lock()
			applied := false
			if tk, ok := m.tasks[key]; ok && tk.state.Active() {
				tk.state = provider.InProgress(prog)
				applied = true
			}
			m.mu.Unlock()

			// Ticks arriving after cancellation are dropped along with
			// their events; no subscriber sees progress past a terminal
			// state.
			if !applied {
				continue
			}

			// Coalesce: at most one progress event per interval, the
			// latest tick wins.
			if time.Since(lastEmit) >= m.progressInterval {
				lastEmit = time.Now()
				m.bus.Publish(events.Event{
					Type:     events.DownloadProgress,
					Provider: key.Provider,
					ModelID:  key.ModelID,
					Progress: &prog,
				})
			}

		case pullErr = <-pullDone:
			break consume
		}
	}

	// Drain ticks the puller sent before returning
	for {
		select {
		case p := <-progressCh:
			if p.BytesDownloaded > lastBytes {
				lastBytes = p.BytesDownloaded
			}
		default:
			m.finish(ctx, key, adapter, pullErr, lastBytes, startedAt)
			return
		}
	}
}

func (m *Manager) finish(ctx context.Context, key Key, adapter provider.Provider, pullErr error, bytes int64, startedAt time.Time) {
	now := time.Now().UTC()

	if pullErr != nil {
		if ctx.Err() != nil {
			m.finishCancelled(key)
			return
		}

		m.mu.Lock()
		if tk, ok := m.tasks[key]; ok && !tk.state.Terminal() {
			tk.state = provider.Failed(pullErr.Error(), string(provider.KindOf(pullErr)), now)
		}
		m.mu.Unlock()
		m.persistStates()

		m.bus.Publish(events.Event{
			Type:     events.DownloadFailed,
			Provider: key.Provider,
			ModelID:  key.ModelID,
			Error:    pullErr.Error(),
		})
		m.logger.Warn("download.failed", "Download failed", map[string]interface{}{
			"model": key.String(),
			"error": pullErr.Error(),
		})
		return
	}

	// The declared size was an estimate. Record the completion first so
	// usage accounting sees the new model, then re-check the quota
	// against actual bytes; both steps share the critical section.
	completed := false
	overQuota := false
	var used int64
	m.mu.Lock()
	if tk, ok := m.tasks[key]; ok && !tk.state.Terminal() {
		tk.state = provider.Completed(now, now.Sub(startedAt).Seconds(), bytes)
		completed = true

		used = m.usedBytesLocked()
		if m.limitBytes > 0 && used > m.limitBytes {
			tk.state = provider.Failed(
				fmt.Sprintf("quota exceeded on completion: %d bytes in use, limit is %d", used, m.limitBytes),
				string(provider.KindQuotaExceeded), now)
			overQuota = true
		}
	}
	m.mu.Unlock()
	m.persistStates()

	if !completed {
		// Cancelled in the last instant of the transfer
		return
	}

	if overQuota {
		if err := adapter.DeleteModel(context.WithoutCancel(ctx), key.ModelID); err != nil {
			m.logger.Warn("download.quota_cleanup_failed", "Could not remove over-quota model", map[string]interface{}{
				"model": key.String(),
				"error": err.Error(),
			})
		}
		m.bus.Publish(events.Event{
			Type:     events.DownloadFailed,
			Provider: key.Provider,
			ModelID:  key.ModelID,
			Error:    "quota exceeded on completion",
		})
		m.logger.Warn("download.quota_exceeded", "Completed download exceeded quota and was removed", map[string]interface{}{
			"model":       key.String(),
			"used_bytes":  used,
			"limit_bytes": m.limitBytes,
		})
		return
	}

	m.bus.Publish(events.Event{
		Type:     events.DownloadCompleted,
		Provider: key.Provider,
		ModelID:  key.ModelID,
	})
	m.bus.Publish(events.Event{
		Type:     events.ModelAdded,
		Provider: key.Provider,
		ModelID:  key.ModelID,
	})
	m.logger.Info("download.completed", "Download completed", map[string]interface{}{
		"model": key.String(),
		"bytes": bytes,
	})
}

func (m *Manager) finishCancelled(key Key) {
	m.mu.Lock()
	if tk, ok := m.tasks[key]; ok && !tk.state.Terminal() {
		tk.state = provider.Cancelled(time.Now().UTC())
	}
	m.mu.Unlock()
	m.persistStates()
}

// usedBytesLocked computes quota usage. File-backed models are measured
// from the models directory; a model a server keeps in its own storage
// leaves no file there, so its recorded completion size is added on
// top. Callers hold m.mu.
func (m *Manager) usedBytesLocked() int64 {
	var used int64
	if m.modelsDir != "" {
		size, err := fsutil.DirSize(m.modelsDir)
		if err != nil {
			m.logger.Warn("download.usage_failed", "Could not measure models directory", map[string]interface{}{
				"dir":   m.modelsDir,
				"error": err.Error(),
			})
		} else {
			used = size
		}
	}

	for k, tk := range m.tasks {
		if tk.state.Status != provider.StatusCompleted {
			continue
		}
		if m.onDiskLocked(k.ModelID) {
			// Already counted by the directory measurement
			continue
		}
		used += tk.state.Completion.SizeBytes
	}

	return used
}

// onDiskLocked reports whether a completed model is materialized as a
// file in the models directory.
func (m *Manager) onDiskLocked(modelID string) bool {
	if m.modelsDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(m.modelsDir, modelID))
	return err == nil
}

// pendingBytesLocked sums the declared sizes of active transfers
func (m *Manager) pendingBytesLocked() int64 {
	var total int64
	for _, tk := range m.tasks {
		if tk.state.Active() {
			total += tk.declaredSize
		}
	}
	return total
}

func buildProgress(p provider.PullProgress, startedAt time.Time) provider.Progress {
	prog := provider.Progress{
		BytesDownloaded: p.BytesDownloaded,
		TotalBytes:      p.TotalBytes,
	}
	if p.TotalBytes > 0 {
		prog.Percent = float64(p.BytesDownloaded) / float64(p.TotalBytes) * 100
	}

	elapsed := time.Since(startedAt).Seconds()
	if elapsed > 0 {
		prog.BytesPerSecond = int64(float64(p.BytesDownloaded) / elapsed)
	}
	if prog.BytesPerSecond > 0 && p.TotalBytes > p.BytesDownloaded {
		prog.ETASeconds = (p.TotalBytes - p.BytesDownloaded) / prog.BytesPerSecond
	}
	return prog
}
