// Package classify resolves a flow endpoint's router-vs-individual
// classification and implements the configured zone/interface precedence
// used by the query engine's left/right matching (C11).
package classify

import (
	"context"
	"strings"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// EndpointID is the identity a flow endpoint resolves to: either a
// concrete (device,mac,ip) inventory entry or the router bucket.
type EndpointID struct {
	IsRouter  bool
	DeviceKey string
	MAC       string
	IP        string
}

// Key returns a stable string identity for grouping/ordering.
func (e EndpointID) Key() string {
	if e.IsRouter {
		return e.DeviceKey + "|router"
	}
	return e.DeviceKey + "|" + e.MAC + "|" + e.IP
}

// Policy resolves endpoint identities against a device's router-MAC rules.
type Policy struct {
	store *store.Store
}

func New(s *store.Store) *Policy { return &Policy{store: s} }

// Resolve implements §4.11: a matching router_mac_rule (with a direction
// honouring src/dst/both) classifies the endpoint as the router bucket;
// otherwise identity is (device_key, mac, ip), or (device_key, "", ip)
// when mac is absent.
func (p *Policy) Resolve(ctx context.Context, deviceKey, mac, ip, direction string) (EndpointID, error) {
	if mac != "" {
		rules, err := p.store.RouterMACs.List(ctx, deviceKey)
		if err != nil {
			return EndpointID{}, err
		}
		for _, rule := range rules {
			if !strings.EqualFold(rule.MAC, mac) {
				continue
			}
			if rule.Direction == "both" || rule.Direction == direction {
				return EndpointID{IsRouter: true, DeviceKey: deviceKey}, nil
			}
		}
	}
	return EndpointID{DeviceKey: deviceKey, MAC: mac, IP: ip}, nil
}

// FieldMatch reports whether a flow event matches wantValue: a "zone"
// query compares the zone field and an "interface" query compares the
// interface field. The precedence argument is not consulted, so when both
// zone and interface are present either one can match its own query; the
// stored event retains both.
func FieldMatch(precedence config.ClassificationPrecedence, zone, iface, wantKind, wantValue string) bool {
	switch wantKind {
	case "zone":
		return zone != "" && zone == wantValue
	case "interface":
		return iface != "" && iface == wantValue
	}
	return false
}

// PreferredField returns which field ("zone"|"interface") precedence
// favors when a caller must pick one and both are present.
func PreferredField(precedence config.ClassificationPrecedence, zone, iface string) string {
	if precedence == config.PrecedenceInterfaceFirst {
		if iface != "" {
			return "interface"
		}
		if zone != "" {
			return "zone"
		}
		return ""
	}
	if zone != "" {
		return "zone"
	}
	if iface != "" {
		return "interface"
	}
	return ""
}

// RecordUnclassified bumps the unclassified-name counter for kind/name.
// It makes no resolution check of its own: every non-empty name it is
// given is counted (the store ignores empty names).
func RecordUnclassified(ctx context.Context, s *store.Store, deviceKey, kind, name string) error {
	return s.Unclassified.Bump(ctx, deviceKey, kind, name)
}
