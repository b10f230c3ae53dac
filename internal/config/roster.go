package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/texican/chess-tracker/internal/domain"
	"github.com/texican/chess-tracker/internal/obslog"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"
)

// RosterFile is the YAML document referenced by ROSTER_FILE.
type RosterFile struct {
	Players         []string `yaml:"players"`
	Venues          []string `yaml:"venues"`
	SessionGapHours float64  `yaml:"session_gap_hours"`
}

// LoadRosterFile reads and validates a roster document.
func LoadRosterFile(path string) (*RosterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}
	var rf RosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing roster file: %w", err)
	}
	rf.Players = dedupeNames(rf.Players)
	rf.Venues = dedupeNames(rf.Venues)
	if len(rf.Players) == 0 {
		return nil, fmt.Errorf("roster file %s has no players", path)
	}
	if rf.SessionGapHours < 0 {
		return nil, fmt.Errorf("session_gap_hours cannot be negative")
	}
	return &rf, nil
}

func dedupeNames(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, n := range in {
		n = domain.NormalizeName(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Provider hands out the current Tracker settings. When a roster file is
// configured its players and gap override the environment values, and Watch
// keeps them current.
type Provider struct {
	mu      sync.RWMutex
	base    Tracker
	path    string
	current Tracker

	watcherMu sync.Mutex
	watcher   *fsnotify.Watcher
}

// NewProvider builds a Provider from cfg, loading the roster file if set.
func NewProvider(cfg *AppConfig) (*Provider, error) {
	base := cfg.Tracker()
	base.Roster = dedupeNames(base.Roster)
	p := &Provider{base: base, path: cfg.RosterFile, current: base}
	if p.path != "" {
		if err := p.Reload(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// StaticProvider returns a Provider that never reloads.
func StaticProvider(t Tracker) *Provider {
	t.Roster = dedupeNames(t.Roster)
	t.Venues = dedupeNames(t.Venues)
	return &Provider{base: t, current: t}
}

// Tracker returns a snapshot of the current settings.
func (p *Provider) Tracker() Tracker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := p.current
	t.Roster = append([]string(nil), t.Roster...)
	t.Venues = append([]string(nil), t.Venues...)
	return t
}

// Reload re-reads the roster file. The previous settings stay in place on error.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	rf, err := LoadRosterFile(p.path)
	if err != nil {
		return err
	}
	next := p.base
	next.Roster = rf.Players
	next.Venues = rf.Venues
	if rf.SessionGapHours > 0 {
		next.GapHours = rf.SessionGapHours
	}
	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	obslog.L().Info("roster_loaded",
		zap.String("path", p.path),
		zap.Strings("players", next.Roster),
		zap.Float64("gap_hours", next.GapHours),
	)
	return nil
}

// Watch reloads the roster file whenever it is written or recreated.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch roster file: %w", err)
	}
	p.watcherMu.Lock()
	p.watcher = watcher
	p.watcherMu.Unlock()

	go func() {
		defer p.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// let editors finish writing
				time.Sleep(100 * time.Millisecond)
				if err := p.Reload(); err != nil {
					obslog.L().Warn("roster_reload_error", zap.String("path", p.path), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				obslog.L().Warn("roster_watch_error", zap.String("path", p.path), zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher if running.
func (p *Provider) Close() {
	p.watcherMu.Lock()
	defer p.watcherMu.Unlock()
	if p.watcher != nil {
		p.watcher.Close()
		p.watcher = nil
	}
}
