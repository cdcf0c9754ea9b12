package admin

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/boltproxy/boltproxy/internal/store"
)

// loadDenylistFile reads a newline-delimited seed file: one host per
// line, blank lines and lines starting with '#' ignored. It reads the
// whole file and builds a fresh set rather than mutating one in place.
func loadDenylistFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts, scanner.Err()
}

// persistDenylistFile writes hosts back to path atomically via
// rename-into-place, so a concurrent fsnotify watcher can never observe
// a half-written file.
func persistDenylistFile(path string, hosts []string) error {
	var b strings.Builder
	for _, h := range hosts {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	return renameio.WriteFile(path, []byte(b.String()), 0o644)
}

// WatchDenylistFile seeds denylist from path and then watches the file
// (and the directory it lives in, to catch rename-based atomic writes)
// for changes, reloading on every write/create event until ctx is
// canceled. The watcher itself never closes the denylist: on a read
// failure it logs and keeps the last-good membership set.
func WatchDenylistFile(ctx context.Context, path string, denylist *store.Denylist, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("denylist-watch")

	if hosts, err := loadDenylistFile(path); err != nil {
		log.Warn("initial denylist load failed", zap.String("path", path), zap.Error(err))
	} else {
		denylist.ReplaceAll(hosts)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				hosts, err := loadDenylistFile(path)
				if err != nil {
					log.Warn("denylist reload failed, keeping previous set", zap.Error(err))
					continue
				}
				denylist.ReplaceAll(hosts)
				log.Info("denylist reloaded", zap.Int("hosts", len(hosts)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("denylist watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
