// Package identity consumes DEVICE records and CONN endpoints to maintain
// the endpoint inventory, merging auto-attributes last-writer-wins while
// leaving user overrides to shadow them at read time (C4).
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// Resolver is single-writer per device_key (enforced by a per-key mutex)
// and fully parallel across devices.
type Resolver struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s *store.Store) *Resolver {
	return &Resolver{store: s, locks: make(map[string]*sync.Mutex)}
}

func (r *Resolver) lockFor(deviceKey string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[deviceKey]
	if !ok {
		l = &sync.Mutex{}
		r.locks[deviceKey] = l
	}
	return l
}

// ApplyDevice upserts a DEVICE record's sighting, merging non-empty
// auto-attributes with last-writer-wins semantics. mac is optional:
// IP-only observations are stored under an empty-mac key.
func (r *Resolver) ApplyDevice(ctx context.Context, deviceKey string, fields parser.DeviceFields, at time.Time) error {
	if fields.IP == "" && fields.MAC == "" {
		return nil
	}
	lock := r.lockFor(deviceKey)
	lock.Lock()
	defer lock.Unlock()

	return r.store.Endpoints.Sight(ctx, deviceKey, fields.MAC, fields.IP, at,
		fields.Vendor, fields.HWType, fields.OSType, fields.Brand, fields.Model, fields.Hostname)
}

// ApplyConnSighting emits lightweight sightings for both CONN endpoints
// when a mac is present, bumping last_seen/seen_count without touching
// auto-attributes.
func (r *Resolver) ApplyConnSighting(ctx context.Context, deviceKey string, fields parser.ConnFields, at time.Time) error {
	lock := r.lockFor(deviceKey)
	lock.Lock()
	defer lock.Unlock()

	if fields.SrcMAC != "" && fields.SrcIP != "" {
		if err := r.store.Endpoints.Sight(ctx, deviceKey, fields.SrcMAC, fields.SrcIP, at, "", "", "", "", "", ""); err != nil {
			return err
		}
	}
	if fields.DstMAC != "" && fields.DstIP != "" {
		if err := r.store.Endpoints.Sight(ctx, deviceKey, fields.DstMAC, fields.DstIP, at, "", "", "", "", "", ""); err != nil {
			return err
		}
	}
	return nil
}

// SetOverride records a user-managed override shadowing auto attributes
// at read time; it is never merged back into the auto_* columns.
func (r *Resolver) SetOverride(ctx context.Context, o store.EndpointOverride) error {
	return r.store.Endpoints.UpsertOverride(ctx, o)
}
