package firewallid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHASuffix(t *testing.T) {
	cases := []struct {
		in, base, suffix string
	}{
		{"edge-a", "edge", "-a"},
		{"edge-b", "edge", "-b"},
		{"core-primary", "core", "-primary"},
		{"core-secondary", "core", "-secondary"},
		{"EDGE-A", "edge", "-a"},
		{"standalone", "", ""},
		{"gateway-c", "", ""},
	}
	for _, c := range cases {
		base, suffix := stripHASuffix(c.in)
		assert.Equal(t, c.base, base, c.in)
		assert.Equal(t, c.suffix, suffix, c.in)
	}
}

func TestPeerSuffix(t *testing.T) {
	assert.Equal(t, "-b", peerSuffix("-a"))
	assert.Equal(t, "-a", peerSuffix("-b"))
	assert.Equal(t, "-secondary", peerSuffix("-primary"))
	assert.Equal(t, "-primary", peerSuffix("-secondary"))
	assert.Equal(t, "", peerSuffix("-x"))
}

func TestDeviceKeyForImport_AgreeingHostnames(t *testing.T) {
	key := DeviceKeyForImport([]string{"FW1", "fw1", "fw1"}, "fallback")
	assert.Equal(t, "fw1", key)
}

func TestDeviceKeyForImport_DisagreeingFallsBackToForm(t *testing.T) {
	key := DeviceKeyForImport([]string{"fw1", "fw2"}, "Chosen")
	assert.Equal(t, "chosen", key)
}

func TestDeviceKeyForImport_NoHintsNoForm(t *testing.T) {
	assert.Equal(t, "unknown", DeviceKeyForImport(nil, ""))
}
