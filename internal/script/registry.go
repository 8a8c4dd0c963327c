package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fetchbay/fetchd/internal/domain"
)

// Registry is an explicit mapping from site key to worker program
// path. It is built by scanning a scripts directory for files named
// <prefix><site>[.ext], merged with explicit overrides from config.
// Overrides win over scanned entries.
type Registry struct {
	dir      string
	prefix   string
	explicit map[string]string
	logger   *zap.Logger

	mu       sync.RWMutex
	programs map[string]string
}

// NewRegistry creates a Registry and performs the initial scan. A
// missing scripts directory is not fatal: the registry starts with
// only the explicit entries and later refreshes may pick the
// directory up.
func NewRegistry(dir, prefix string, explicit map[string]string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		dir:      dir,
		prefix:   prefix,
		explicit: explicit,
		logger:   logger,
		programs: make(map[string]string),
	}
	if err := r.Refresh(); err != nil {
		logger.Warn("initial script scan failed", zap.String("dir", dir), zap.Error(err))
	}
	return r
}

// Refresh rescans the scripts directory and swaps in the new mapping.
func (r *Registry) Refresh() error {
	programs := make(map[string]string)

	entries, err := os.ReadDir(r.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scan scripts dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, r.prefix) {
			continue
		}
		site := strings.TrimPrefix(name, r.prefix)
		site = strings.TrimSuffix(site, filepath.Ext(site))
		site = strings.ToLower(site)
		if site == "" {
			continue
		}
		programs[site] = filepath.Join(r.dir, name)
	}
	for site, program := range r.explicit {
		programs[strings.ToLower(site)] = program
	}

	r.mu.Lock()
	r.programs = programs
	r.mu.Unlock()
	return nil
}

// Lookup returns the worker program registered for the site key.
func (r *Registry) Lookup(siteKey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	program, ok := r.programs[siteKey]
	return program, ok
}

// Sites returns the currently registered site keys.
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sites := make([]string, 0, len(r.programs))
	for site := range r.programs {
		sites = append(sites, site)
	}
	return sites
}

// Resolve maps a URL to its site key and worker program. Returns
// ErrInvalidURL for unparseable URLs and ErrNoWorkerForSite when no
// program is registered for the derived key.
func (r *Registry) Resolve(rawURL string) (string, string, error) {
	siteKey, err := SiteKey(rawURL)
	if err != nil {
		return "", "", err
	}
	program, ok := r.Lookup(siteKey)
	if !ok {
		return "", "", fmt.Errorf("site %q: %w", siteKey, domain.ErrNoWorkerForSite)
	}
	return siteKey, program, nil
}

// RunRefresher rescans on the given interval until the context is
// cancelled. A zero or negative interval disables refreshing.
func (r *Registry) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(); err != nil {
				r.logger.Warn("script rescan failed", zap.Error(err))
			}
		}
	}
}
