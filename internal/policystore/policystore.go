// Package policystore watches a directory of named policy JSON documents
// so operators can pick one by name when starting a session. It never
// mutates a running session's Policy — Policy stays immutable for the
// life of a session per spec.md §5; a store refresh only changes what a
// *new* startFileAnalysis/startLiveMonitoring call will see.
package policystore

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/technosupport/vision-compliance/internal/compliance"
)

// Store holds the most recently loaded Policy per name, keyed by file
// basename without extension.
type Store struct {
	dir string

	mu   sync.RWMutex
	byID map[string]compliance.Policy
}

func New(dir string) *Store {
	return &Store{dir: dir, byID: make(map[string]compliance.Policy)}
}

// LoadAll does an initial synchronous scan of the directory. Call this
// once before Watch so the first session start doesn't race the
// watcher's startup.
func (s *Store) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s.loadFile(filepath.Join(s.dir, e.Name()))
	}
	return nil
}

// Get returns the named policy and whether it was found.
func (s *Store) Get(name string) (compliance.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[name]
	return p, ok
}

// Names lists the currently loaded policy names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byID))
	for name := range s.byID {
		out = append(out, name)
	}
	return out
}

func (s *Store) loadFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[POLICYSTORE] read %s: %v", path, err)
		return
	}
	var p compliance.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[POLICYSTORE] parse %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.byID[name] = p
	s.mu.Unlock()
}

func (s *Store) removeFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	s.mu.Lock()
	delete(s.byID, name)
	s.mu.Unlock()
}

// Watch runs until ctx is cancelled, reloading policies as files change.
// It prefers fsnotify and falls back to a bounded polling loop if the
// watcher can't be established — the directory may not exist yet at
// startup.
func (s *Store) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[POLICYSTORE] fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(s.dir); err != nil {
		log.Printf("[POLICYSTORE] cannot watch %s (%v), falling back to polling", s.dir, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if !strings.HasSuffix(event.Name, ".json") {
						continue
					}
					switch {
					case event.Op&fsnotify.Remove == fsnotify.Remove:
						s.removeFile(event.Name)
					case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
						time.Sleep(50 * time.Millisecond)
						s.loadFile(event.Name)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[POLICYSTORE] watcher error: %v", err)
				}
			}
		}()
	}

	// Slow polling safety net regardless of whether fsnotify is active —
	// catches editors that replace files via rename-over rather than write.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.LoadAll(); err != nil {
					log.Printf("[POLICYSTORE] periodic rescan: %v", err)
				}
			}
		}
	}()
}
