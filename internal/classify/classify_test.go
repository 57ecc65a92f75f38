package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/classify"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
)

func TestEndpointID_Key(t *testing.T) {
	ep := classify.EndpointID{DeviceKey: "fw1", MAC: "AA-BB-CC-DD-EE-FF", IP: "10.0.0.5"}
	assert.Equal(t, "fw1|AA-BB-CC-DD-EE-FF|10.0.0.5", ep.Key())

	noMAC := classify.EndpointID{DeviceKey: "fw1", IP: "10.0.0.5"}
	assert.Equal(t, "fw1||10.0.0.5", noMAC.Key())

	router := classify.EndpointID{IsRouter: true, DeviceKey: "fw1"}
	assert.Equal(t, "fw1|router", router.Key())
}

func TestFieldMatch(t *testing.T) {
	assert.True(t, classify.FieldMatch(config.PrecedenceZoneFirst, "trusted", "lan1", "zone", "trusted"))
	assert.False(t, classify.FieldMatch(config.PrecedenceZoneFirst, "trusted", "lan1", "zone", "dmz"))
	assert.True(t, classify.FieldMatch(config.PrecedenceZoneFirst, "trusted", "lan1", "interface", "lan1"))
	assert.False(t, classify.FieldMatch(config.PrecedenceZoneFirst, "", "", "zone", ""))
	assert.False(t, classify.FieldMatch(config.PrecedenceZoneFirst, "trusted", "lan1", "bogus", "x"))
}

func TestPreferredField(t *testing.T) {
	assert.Equal(t, "zone", classify.PreferredField(config.PrecedenceZoneFirst, "trusted", "lan1"))
	assert.Equal(t, "interface", classify.PreferredField(config.PrecedenceInterfaceFirst, "trusted", "lan1"))
	assert.Equal(t, "interface", classify.PreferredField(config.PrecedenceZoneFirst, "", "lan1"))
	assert.Equal(t, "zone", classify.PreferredField(config.PrecedenceInterfaceFirst, "trusted", ""))
	assert.Equal(t, "", classify.PreferredField(config.PrecedenceZoneFirst, "", ""))
}
