package rules

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces into a single reload.
const reloadDebounce = 250 * time.Millisecond

// Source owns the rules file: it loads and validates the configured rules
// and optionally hot-reloads them when the file changes on disk.
type Source struct {
	path     string
	logger   *slog.Logger
	validate *validator.Validate

	mu       sync.RWMutex
	rules    []Rule
	onReload func()
}

// NewSource creates a rule source for the given file path.
func NewSource(path string, logger *slog.Logger) *Source {
	return &Source{
		path:     path,
		logger:   logger,
		validate: validator.New(),
	}
}

// OnReload registers a callback invoked after every successful reload.
func (s *Source) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = fn
}

// Rules returns the currently loaded rule set.
func (s *Source) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// RuleCount returns the number of currently active rules.
func (s *Source) RuleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Path returns the rules file path.
func (s *Source) Path() string {
	return s.path
}

// Load reads and validates the rules file, swapping the active rule set
// atomically. A missing file yields an empty rule set; individual invalid
// rules are skipped with a warning so one bad entry cannot disable the rest.
func (s *Source) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if s.logger != nil {
				s.logger.Warn("Rules file not found, running with no reward rules", "path", s.path)
			}
			s.swap(nil)
			return nil
		}
		return fmt.Errorf("read rules file: %w", err)
	}

	var configured []Rule
	if err := json.Unmarshal(data, &configured); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}

	valid := make([]Rule, 0, len(configured))
	for i, rule := range configured {
		if err := s.validate.Struct(rule); err != nil {
			if s.logger != nil {
				s.logger.Warn("Skipping invalid rule", "rule_index", i, "error", err)
			}
			continue
		}
		if rule.RewardRole.Empty() {
			if s.logger != nil {
				s.logger.Warn("Skipping rule without reward role reference", "rule_index", i)
			}
			continue
		}
		if hasEmptySelector(rule.RequiredRoles) {
			if s.logger != nil {
				s.logger.Warn("Skipping rule with empty required role reference", "rule_index", i)
			}
			continue
		}
		valid = append(valid, rule)
	}

	s.swap(valid)

	if s.logger != nil {
		s.logger.Info("Reward rules loaded",
			"path", s.path,
			"configured", len(configured),
			"active", len(valid),
		)
	}
	return nil
}

// Watch blocks, reloading the rules file whenever it changes, until the
// context is cancelled. Reload failures keep the previous rule set active.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch rules directory: %w", err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if s.logger != nil {
				s.logger.Warn("Rules watcher error", "error", err)
			}

		case <-reload:
			if err := s.Load(); err != nil {
				if s.logger != nil {
					s.logger.Error("Rules reload failed, keeping previous rules", "error", err)
				}
				continue
			}
			s.mu.RLock()
			fn := s.onReload
			s.mu.RUnlock()
			if fn != nil {
				fn()
			}
		}
	}
}

// swap replaces the active rule set.
func (s *Source) swap(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func hasEmptySelector(selectors []RoleSelector) bool {
	for _, sel := range selectors {
		if sel.Empty() {
			return true
		}
	}
	return false
}
