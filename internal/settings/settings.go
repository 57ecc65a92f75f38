// Package settings manages the typed setting rows (log retention,
// local-networks filter, HA banner dismissals) behind a read-through
// cache, and runs the retention/cleanup job against the store (C10).
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const (
	NameLogRetention      = "log_retention"
	NameLocalNetworks     = "local_networks"
	NameHABannerDismissed = "ha_banner_dismissed"

	refreshInterval = 30 * time.Second
)

// LogRetention controls the daily/on-demand purge of syslog-sourced rows.
type LogRetention struct {
	Enabled  bool `json:"enabled"`
	KeepDays int  `json:"keep_days"`
}

// LocalNetworks is the IPv4 CIDR allowlist used by the "local-only"
// endpoint inventory filter.
type LocalNetworks struct {
	Enabled bool     `json:"enabled"`
	CIDRs   []string `json:"cidrs"`
}

// Snapshot is the full typed settings view returned by GET /settings.
type Snapshot struct {
	LogRetention      LogRetention  `json:"log_retention"`
	LocalNetworks     LocalNetworks `json:"local_networks"`
	HABannerDismissed []string      `json:"ha_banner_dismissed"`
}

// Store is a read-through cache over the settings table, refreshed on
// write or every 30s per §5's shared-resource policy.
type Store struct {
	db *store.Store

	mu          sync.RWMutex
	cached      Snapshot
	lastRefresh time.Time
}

func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Get returns the cached snapshot, refreshing from the database first if
// the cache is stale.
func (s *Store) Get(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	stale := time.Since(s.lastRefresh) > refreshInterval
	cached := s.cached
	s.mu.RUnlock()
	if !stale {
		return cached, nil
	}
	return s.refresh(ctx)
}

func (s *Store) refresh(ctx context.Context) (Snapshot, error) {
	all, err := s.db.Settings.GetAll(ctx)
	if err != nil {
		return Snapshot{}, apierr.Internal(fmt.Errorf("load settings: %w", err))
	}

	snap := Snapshot{
		LogRetention:  LogRetention{Enabled: false, KeepDays: 90},
		LocalNetworks: LocalNetworks{Enabled: false},
	}
	if raw, ok := all[NameLogRetention]; ok {
		_ = json.Unmarshal(raw, &snap.LogRetention)
	}
	if raw, ok := all[NameLocalNetworks]; ok {
		_ = json.Unmarshal(raw, &snap.LocalNetworks)
	}
	if raw, ok := all[NameHABannerDismissed]; ok {
		_ = json.Unmarshal(raw, &snap.HABannerDismissed)
	}

	s.mu.Lock()
	s.cached = snap
	s.lastRefresh = time.Now()
	s.mu.Unlock()
	return snap, nil
}

// SetLogRetention validates and persists the retention policy, invalidating
// the cache immediately.
func (s *Store) SetLogRetention(ctx context.Context, r LogRetention) error {
	if r.KeepDays < 1 || r.KeepDays > 365 {
		return apierr.ValidationError("keep_days must be between 1 and 365")
	}
	if err := s.db.Settings.Set(ctx, NameLogRetention, r); err != nil {
		return apierr.Internal(fmt.Errorf("set log retention: %w", err))
	}
	s.invalidate()
	return nil
}

// SetLocalNetworks validates (IPv4-only CIDRs, normalised to network form)
// and persists the local-networks filter.
func (s *Store) SetLocalNetworks(ctx context.Context, n LocalNetworks) error {
	normalized := make([]string, 0, len(n.CIDRs))
	for _, c := range n.CIDRs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return apierr.ValidationError(fmt.Sprintf("invalid CIDR %q", c))
		}
		if ipnet.IP.To4() == nil {
			return apierr.ValidationError(fmt.Sprintf("CIDR %q is not IPv4", c))
		}
		normalized = append(normalized, ipnet.String())
	}
	n.CIDRs = normalized
	if err := s.db.Settings.Set(ctx, NameLocalNetworks, n); err != nil {
		return apierr.Internal(fmt.Errorf("set local networks: %w", err))
	}
	s.invalidate()
	return nil
}

// DismissHABanner appends base to the dismissed-banner list if absent.
func (s *Store) DismissHABanner(ctx context.Context, base string) error {
	snap, err := s.Get(ctx)
	if err != nil {
		return err
	}
	for _, b := range snap.HABannerDismissed {
		if b == base {
			return nil
		}
	}
	updated := append(append([]string{}, snap.HABannerDismissed...), base)
	if err := s.db.Settings.Set(ctx, NameHABannerDismissed, updated); err != nil {
		return apierr.Internal(fmt.Errorf("set ha banner dismissed: %w", err))
	}
	s.invalidate()
	return nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.lastRefresh = time.Time{}
	s.mu.Unlock()
}

// IsLocal reports whether ip falls inside the local-networks allowlist,
// when enabled. Non-IPv4 addresses never match.
func (s Snapshot) IsLocal(ip string) bool {
	if !s.LocalNetworks.Enabled {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return false
	}
	for _, c := range s.LocalNetworks.CIDRs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}
