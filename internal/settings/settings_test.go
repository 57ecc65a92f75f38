package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/settings"
)

func TestSnapshot_IsLocal_Disabled(t *testing.T) {
	snap := settings.Snapshot{LocalNetworks: settings.LocalNetworks{Enabled: false, CIDRs: []string{"10.0.0.0/8"}}}
	assert.False(t, snap.IsLocal("10.1.2.3"))
}

func TestSnapshot_IsLocal_Match(t *testing.T) {
	snap := settings.Snapshot{LocalNetworks: settings.LocalNetworks{Enabled: true, CIDRs: []string{"10.0.0.0/8", "192.168.0.0/16"}}}
	assert.True(t, snap.IsLocal("10.1.2.3"))
	assert.True(t, snap.IsLocal("192.168.5.9"))
	assert.False(t, snap.IsLocal("8.8.8.8"))
}

func TestSnapshot_IsLocal_RejectsNonIPv4(t *testing.T) {
	snap := settings.Snapshot{LocalNetworks: settings.LocalNetworks{Enabled: true, CIDRs: []string{"::/0"}}}
	assert.False(t, snap.IsLocal("2001:db8::1"))
}

func TestSnapshot_IsLocal_IgnoresMalformedCIDR(t *testing.T) {
	snap := settings.Snapshot{LocalNetworks: settings.LocalNetworks{Enabled: true, CIDRs: []string{"not-a-cidr", "10.0.0.0/8"}}}
	assert.True(t, snap.IsLocal("10.5.5.5"))
}
