// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher ingests media dropped into an inbox directory: every
// new file matching the configured glob and filter expression gets a
// fresh workflow and an upload job. Files are only picked up once
// their size has been stable for the debounce window, so half-copied
// media never enters the pipeline.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fsnotify/fsnotify"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/job"
	vflog "github.com/voxflow/voxflow/internal/log"
	"github.com/voxflow/voxflow/internal/pipeline"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Ingestor submits an upload for a discovered file. Satisfied by
// *pipeline.Service.
type Ingestor interface {
	SubmitUpload(ctx context.Context, req pipeline.UploadRequest) (*job.Job, error)
}

// defaults applied when the config leaves them empty.
const (
	defaultGlob     = "**/*.mp4"
	defaultDebounce = 2 * time.Second
)

// pendingFile tracks a file waiting out the debounce window.
type pendingFile struct {
	size     int64
	lastSeen time.Time
}

// Watcher observes one inbox directory.
type Watcher struct {
	dir      string
	glob     string
	debounce time.Duration
	filter   *vm.Program // nil when no filter configured
	ingest   Ingestor
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	pending map[string]*pendingFile
	done    chan struct{}
}

// New validates the configuration, compiles the filter expression, and
// opens the filesystem watch. Start must be called to begin ingesting.
func New(cfg config.WatchConfig, ingest Ingestor, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, &vferrors.ConfigError{Key: "watch.dir", Reason: "watch directory is required when the watcher is enabled"}
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, &vferrors.ConfigError{Key: "watch.dir", Reason: "cannot resolve watch directory", Cause: err}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, &vferrors.ConfigError{Key: "watch.dir", Reason: fmt.Sprintf("%s is not a directory", dir), Cause: err}
	}

	glob := cfg.Glob
	if glob == "" {
		glob = defaultGlob
	}
	if _, err := doublestar.Match(glob, "probe"); err != nil {
		return nil, &vferrors.ConfigError{Key: "watch.glob", Reason: fmt.Sprintf("invalid glob %q", glob), Cause: err}
	}

	var filter *vm.Program
	if cfg.Filter != "" {
		filter, err = expr.Compile(cfg.Filter,
			expr.Env(filterEnv{}),
			expr.AsBool(),
		)
		if err != nil {
			return nil, &vferrors.ConfigError{Key: "watch.filter", Reason: fmt.Sprintf("invalid filter expression %q", cfg.Filter), Cause: err}
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		glob:     glob,
		debounce: debounce,
		filter:   filter,
		ingest:   ingest,
		fsw:      fsw,
		logger:   vflog.WithComponent(logger, "watcher").With("dir", dir),
		pending:  make(map[string]*pendingFile),
		done:     make(chan struct{}),
	}, nil
}

// filterEnv is the variable set filter expressions see.
type filterEnv struct {
	Name string `expr:"name"`
	Ext  string `expr:"ext"`
	Size int64  `expr:"size"`
	Dir  string `expr:"dir"`
}

// Start runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.Info("watch folder active", "glob", w.glob, "debounce", w.debounce)
}

// Close stops watching and waits for the event loop to exit. Call
// after cancelling the Start context.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	tick := w.debounce / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", vflog.Error(err))
		case now := <-ticker.C:
			w.sweep(ctx, now)
		}
	}
}

// handleEvent records create/write activity for later settling and
// forgets files that disappear.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
		return
	case !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write):
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return
	}
	if !w.matches(event.Name, info.Size()) {
		return
	}

	p := w.pending[event.Name]
	if p == nil {
		p = &pendingFile{}
		w.pending[event.Name] = p
	}
	if info.Size() != p.size {
		p.size = info.Size()
		p.lastSeen = time.Now()
	}
}

// matches applies the glob (against the path relative to the inbox)
// and the filter expression.
func (w *Watcher) matches(path string, size int64) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	matched, err := doublestar.Match(w.glob, filepath.ToSlash(rel))
	if err != nil || !matched {
		return false
	}

	if w.filter == nil {
		return true
	}
	out, err := expr.Run(w.filter, filterEnv{
		Name: filepath.Base(path),
		Ext:  strings.ToLower(filepath.Ext(path)),
		Size: size,
		Dir:  filepath.Dir(path),
	})
	if err != nil {
		w.logger.Warn("filter expression failed, skipping file", "file", path, vflog.Error(err))
		return false
	}
	keep, _ := out.(bool)
	return keep
}

// sweep ingests every pending file whose size has been stable for the
// full debounce window.
func (w *Watcher) sweep(ctx context.Context, now time.Time) {
	for path, p := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size {
			p.size = info.Size()
			p.lastSeen = now
			continue
		}
		if now.Sub(p.lastSeen) < w.debounce {
			continue
		}

		delete(w.pending, path)
		j, err := w.ingest.SubmitUpload(ctx, pipeline.UploadRequest{SourceURL: path})
		if err != nil {
			w.logger.Error("inbox ingest failed", "file", path, vflog.Error(err))
			continue
		}
		w.logger.Info("inbox file submitted",
			"file", path, "workflow_id", j.WorkflowID, "job_id", j.ID)
	}
}
