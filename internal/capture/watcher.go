// Package capture ingests receipt images dropped into a watched directory,
// feeding them through the same intake pipeline as uploaded scans.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/slipscan/slipscanner/internal/slip"
)

// Watcher ingests files created in a hot folder. Duplicates are cancelled
// automatically; a folder drop has nobody to ask.
type Watcher struct {
	dir     string
	service *slip.Service
	fsw     *fsnotify.Watcher
}

// New creates a watcher over dir.
func New(dir string, service *slip.Service) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{dir: dir, service: service, fsw: fsw}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("Watching for captures", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !isCapture(event.Name) {
				continue
			}
			w.ingest(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Watcher error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func isCapture(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".pdf", ".heic", ".heif":
		return true
	}
	return false
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	slog.Info("Ingesting capture", "file", path)

	session := w.service.NewSession(slip.FileCamera{Path: path})
	if err := session.Capture(ctx); err != nil {
		slog.Error("Capture failed", "file", path, "error", err)
		return
	}

	switch session.State() {
	case slip.StateAwaitingDuplicateResolution:
		slog.Info("Skipping duplicate capture",
			"file", path, "existing", session.DuplicateOf(), "hash", session.ImageHash())
		if err := session.ResolveDuplicate(ctx, false); err != nil {
			slog.Error("Failed to cancel duplicate", "file", path, "error", err)
		}
	case slip.StateDone:
		slog.Info("Capture persisted", "file", path, "document", session.DocumentID())
	case slip.StateRejected:
		slog.Warn("Capture rejected",
			"file", path, "confidence", session.Confidence())
	case slip.StateFailed:
		slog.Error("Capture processing failed", "file", path, "error", session.Err())
	}
}
