package lookup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/openproject"
)

// Category is a kind of OpenProject resource resolvable by name
type Category string

const (
	Projects   Category = "projects"
	Users      Category = "users"
	Priorities Category = "priorities"
	Types      Category = "types"
	Statuses   Category = "statuses"
)

// fetched are the categories pulled from the API; users come from config
var fetched = []Category{Projects, Priorities, Types, Statuses}

// Fetcher lists an OpenProject collection
type Fetcher interface {
	ListCollection(ctx context.Context, endpoint string) ([]openproject.Element, error)
}

// Table maps human readable names to OpenProject ids. It is backed by one
// JSON snapshot per category and refreshed on a long interval; stale
// entries are tolerated.
type Table struct {
	dir      string
	fetcher  Fetcher
	users    map[string]int
	interval time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	data map[Category]map[string]int
}

// NewTable creates a lookup table persisted under dir
func NewTable(dir string, fetcher Fetcher, users map[string]int, interval time.Duration, logger *zap.Logger) *Table {
	return &Table{
		dir:      dir,
		fetcher:  fetcher,
		users:    users,
		interval: interval,
		logger:   logger,
		data:     make(map[Category]map[string]int),
	}
}

// Open loads the snapshots, refreshing from the API first when any of
// them is missing
func (t *Table) Open(ctx context.Context) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create lookup directory: %w", err)
	}

	missing := false
	for _, category := range append([]Category{Users}, fetched...) {
		if _, err := os.Stat(t.snapshotPath(category)); errors.Is(err, os.ErrNotExist) {
			t.logger.Info("lookup snapshot missing, fetching fresh data", zap.String("category", string(category)))
			missing = true
		}
	}

	if missing {
		if err := t.Refresh(ctx); err != nil {
			t.logger.Error("failed to refresh lookup table", zap.Error(err))
		}
	}

	return t.load()
}

// Resolve returns the id registered for name in category
func (t *Table) Resolve(category Category, name string) (int, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.data[category][name]
	return id, ok && id != 0
}

// Refresh fetches every category and rewrites its snapshot. Categories
// that fail to fetch keep their previous snapshot.
func (t *Table) Refresh(ctx context.Context) error {
	var errs []error

	if err := t.store(Users, t.users); err != nil {
		errs = append(errs, err)
	}

	for _, category := range fetched {
		elements, err := t.fetcher.ListCollection(ctx, string(category))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to fetch %s: %w", category, err))
			continue
		}

		names := make(map[string]int, len(elements))
		for _, e := range elements {
			names[e.Name] = e.ID
		}
		if err := t.store(category, names); err != nil {
			errs = append(errs, err)
			continue
		}

		t.logger.Info("refreshed lookup category",
			zap.String("category", string(category)),
			zap.Int("entries", len(names)),
		)
	}

	return errors.Join(errs...)
}

// Serve refreshes the table every interval until ctx is done
func (t *Table) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopping lookup refresher")
			return ctx.Err()
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Error("failed to refresh lookup table", zap.Error(err))
			}
		}
	}
}

// String names the service for the supervisor
func (t *Table) String() string {
	return "lookup-refresher"
}

func (t *Table) load() error {
	loaded := make(map[Category]map[string]int)
	for _, category := range append([]Category{Users}, fetched...) {
		data, err := os.ReadFile(t.snapshotPath(category))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s snapshot: %w", category, err)
		}

		var names map[string]int
		if err := json.Unmarshal(data, &names); err != nil {
			t.logger.Error("ignoring malformed lookup snapshot",
				zap.String("category", string(category)),
				zap.Error(err),
			)
			continue
		}
		loaded[category] = names
	}

	t.mu.Lock()
	for category, names := range loaded {
		t.data[category] = names
	}
	t.mu.Unlock()

	return nil
}

// store writes a category snapshot and swaps it into memory
func (t *Table) store(category Category, names map[string]int) error {
	if names == nil {
		names = map[string]int{}
	}

	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", category, err)
	}
	if err := os.WriteFile(t.snapshotPath(category), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s snapshot: %w", category, err)
	}

	t.mu.Lock()
	t.data[category] = names
	t.mu.Unlock()

	return nil
}

func (t *Table) snapshotPath(category Category) string {
	return filepath.Join(t.dir, string(category)+".json")
}
