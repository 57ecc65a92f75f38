// Package firewallid derives stable device_keys from syslog hostnames and
// import metadata, and detects HA (master/slave) candidate pairs (C5).
package firewallid

import (
	"context"
	"strings"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

var haSuffixes = []string{"-a", "-b", "-primary", "-secondary"}

// stripHASuffix returns the base hostname and the suffix that was
// stripped, or ("", "") if hostname carries none of the recognised
// suffixes.
func stripHASuffix(hostname string) (base, suffix string) {
	lower := strings.ToLower(hostname)
	for _, s := range haSuffixes {
		if strings.HasSuffix(lower, s) {
			return lower[:len(lower)-len(s)], s
		}
	}
	return "", ""
}

// peerSuffix returns the suffix that would pair with suffix (a<->b,
// primary<->secondary).
func peerSuffix(suffix string) string {
	switch suffix {
	case "-a":
		return "-b"
	case "-b":
		return "-a"
	case "-primary":
		return "-secondary"
	case "-secondary":
		return "-primary"
	}
	return ""
}

// Resolver derives device_keys and detects HA candidates.
type Resolver struct {
	store *store.Store
}

func New(s *store.Store) *Resolver { return &Resolver{store: s} }

// DeviceKeyForSyslog derives the device_key for a syslog-sourced record.
// If hostname carries a recognised HA suffix and a peer with the other
// suffix has already been observed as a firewall, the key is prefixed
// with "ha:" and the suffix stripped; otherwise the lowercased hostname
// is used as-is.
func (res *Resolver) DeviceKeyForSyslog(ctx context.Context, hostname string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(hostname))
	if lower == "" {
		lower = "unknown"
	}
	base, suffix := stripHASuffix(lower)
	if suffix == "" {
		return lower, nil
	}
	peer := base + peerSuffix(suffix)
	seen, err := res.store.Firewalls.Get(ctx, peer)
	if err != nil {
		return lower, nil
	}
	if seen != nil {
		return "ha:" + base, nil
	}
	return lower, nil
}

// DeviceKeyForImport derives the device_key for a file import: if the
// leading records of the file agree on hostname, that hostname is used;
// otherwise the caller-supplied form field is used, lowercased, and an
// empty form field yields "unknown".
func DeviceKeyForImport(headerHostnames []string, formDeviceField string) string {
	if len(headerHostnames) > 0 {
		first := strings.ToLower(headerHostnames[0])
		agree := true
		for _, h := range headerHostnames[1:] {
			if strings.ToLower(h) != first {
				agree = false
				break
			}
		}
		if agree && first != "" && first != "unknown" {
			return first
		}
	}
	if formDeviceField != "" {
		return strings.ToLower(formDeviceField)
	}
	return "unknown"
}

// HACandidate is a suggested pairing not yet enabled as a cluster.
type HACandidate struct {
	Base           string
	Master         string
	Slave          string
	SuggestedLabel string
}

// Candidates proposes HA pairs: two plain device_keys differing only by a
// recognised suffix whose last_seen windows overlap within 24h, excluding
// pairs already enabled.
func Candidates(ctx context.Context, s *store.Store) ([]HACandidate, error) {
	firewalls, err := s.Firewalls.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled, err := s.HAClusters.List(ctx)
	if err != nil {
		return nil, err
	}
	enabledBases := make(map[string]bool, len(enabled))
	for _, c := range enabled {
		enabledBases[c.Base] = true
	}

	bySuffix := make(map[string]map[string]time.Time) // base -> suffix -> last_seen
	for _, fw := range firewalls {
		base, suffix := stripHASuffix(fw.DeviceKey)
		if suffix == "" {
			continue
		}
		if bySuffix[base] == nil {
			bySuffix[base] = make(map[string]time.Time)
		}
		bySuffix[base][suffix] = fw.LastSeen
	}

	var out []HACandidate
	seenBase := make(map[string]bool)
	for base, suffixes := range bySuffix {
		if enabledBases[base] || seenBase[base] {
			continue
		}
		for suffix, lastSeen := range suffixes {
			peer := peerSuffix(suffix)
			peerSeen, ok := suffixes[peer]
			if !ok {
				continue
			}
			if diff := lastSeen.Sub(peerSeen); diff > 24*time.Hour || diff < -24*time.Hour {
				continue
			}
			master, slave := base+suffix, base+peer
			if suffix == "-b" || suffix == "-secondary" {
				master, slave = slave, master
			}
			out = append(out, HACandidate{
				Base:           base,
				Master:         master,
				Slave:          slave,
				SuggestedLabel: strings.ToUpper(base[:1]) + base[1:],
			})
			seenBase[base] = true
			break
		}
	}
	return out, nil
}

// Enable materialises a synthetic "ha:" device_key uniting master/slave.
func Enable(ctx context.Context, s *store.Store, base, master, slave string) error {
	return s.HAClusters.Enable(ctx, base, "ha:"+base, master, slave)
}
