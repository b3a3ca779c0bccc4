package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/textbook"
)

// Directories the watcher never descends into, mirroring what the corpus
// loader skips.
var skipWatchDirs = map[string]bool{
	"node_modules": true,
	"build":        true,
	"dist":         true,
}

// Watch blocks watching dir (or the configured content dir) for markdown
// changes. A write or create re-ingests the changed chapter once events go
// quiet for the debounce window; a remove or rename deletes the chapter's
// points. Watch returns when the context is cancelled or the watcher fails.
//
// Watch only keeps an already ingested corpus in sync. Call Run first for
// the initial load.
func (p *Pipeline) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		dir = p.config.ContentDir
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving content dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if _, err := addWatchTree(watcher, root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	p.logger.Info("watching content dir",
		zap.String("dir", root),
		zap.Duration("debounce", p.config.WatchDebounce))

	// Dirty chapters accumulate here until the debounce timer fires.
	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(p.config.WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.handleWatchEvent(watcher, event, pending)
			if len(pending) > 0 {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.config.WatchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			p.flushPending(ctx, root, pending)
		}
	}
}

// handleWatchEvent records a filesystem event in the pending set. Newly
// created directories are added to the watch tree, and any markdown files
// already inside them are queued so files that land before their directory
// is watched are not lost.
func (p *Pipeline) handleWatchEvent(watcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]fsnotify.Op) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			files, err := addWatchTree(watcher, event.Name)
			if err != nil {
				p.logger.Warn("watching new directory",
					zap.String("dir", event.Name),
					zap.Error(err))
			}
			for _, f := range files {
				pending[f] |= fsnotify.Create
			}
			return
		}
	}

	if !isChapterFile(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Create == fsnotify.Create:
		pending[event.Name] |= fsnotify.Write
	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		pending[event.Name] |= fsnotify.Remove
	}
}

// flushPending processes the dirty set after a quiet period, then clears it.
func (p *Pipeline) flushPending(ctx context.Context, root string, pending map[string]fsnotify.Op) {
	if len(pending) == 0 {
		return
	}
	rev := textbook.Revision(root)

	for path, op := range pending {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			p.logger.Warn("resolving changed path", zap.String("path", path), zap.Error(err))
			continue
		}
		chapterID := textbook.ChapterIDFromPath(rel)

		// A remove with no later write means the chapter is gone.
		if op&fsnotify.Remove == fsnotify.Remove && op&fsnotify.Write == 0 {
			if err := p.store.DeleteByChapter(ctx, chapterID); err != nil {
				p.logger.Error("deleting removed chapter",
					zap.String("chapter", chapterID),
					zap.Error(err))
				continue
			}
			p.logger.Info("chapter removed", zap.String("chapter", chapterID))
			continue
		}

		if err := p.reingestFile(ctx, root, path, rev); err != nil {
			p.logger.Error("re-ingesting chapter",
				zap.String("chapter", chapterID),
				zap.Error(err))
			continue
		}
		p.logger.Info("chapter re-ingested",
			zap.String("chapter", chapterID),
			zap.String("rev", rev))
	}

	clear(pending)
}

// reingestFile parses and ingests a single chapter file.
func (p *Pipeline) reingestFile(ctx context.Context, root, path, rev string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rel, err)
	}
	ch, err := textbook.ParseChapter(rel, raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", rel, err)
	}
	ch.Rev = rev
	_, _, err = p.ingestChapter(ctx, ch)
	return err
}

// addWatchTree registers dir and every subdirectory with the watcher and
// returns the markdown chapter files it encountered.
func addWatchTree(watcher *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := filepath.Base(path)
			if path != dir && (strings.HasPrefix(name, ".") || skipWatchDirs[name]) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		if isChapterFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// isChapterFile reports whether path looks like chapter content: a markdown
// file that is not a module index page. The rules match the corpus loader.
func isChapterFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".md" && ext != ".markdown" {
		return false
	}
	return filepath.Base(path) != "index.md"
}
