package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
)

func TestNormalizeMAC_FallbackKeepsSeparators(t *testing.T) {
	assert.Equal(t, "NOT-A-MAC", parser.NormalizeMAC("not-a-mac"))
	assert.Equal(t, "AA-BB-CC", parser.NormalizeMAC("aa:bb:cc"))
}

func TestExtractConnFields_BlockedAndRejectAliases(t *testing.T) {
	for _, raw := range []string{"blocked", "reject", "drop", "deny"} {
		fields := parser.ExtractConnFields(map[string]string{"conn": raw})
		if raw == "blocked" {
			assert.Equal(t, parser.ConnBlocked, fields.Conn, raw)
		} else {
			assert.Equal(t, parser.ConnReject, fields.Conn, raw)
		}
	}
}

func TestExtractConnFields_FullTuple(t *testing.T) {
	kv := map[string]string{
		"conn": "Open", "connipproto": "TCP",
		"connsrcip": "10.0.0.5", "connsrcport": "54321",
		"conndestip": "8.8.8.8", "conndestport": "443",
		"connsrcmac":   "aa:bb:cc:dd:ee:01",
		"connrecvzone": "trusted", "connrecvif": "lan1",
		"origsent": "1000", "termsent": "2000",
		"rule": "allow-out", "app_name": "https",
	}
	f := parser.ExtractConnFields(kv)
	assert.Equal(t, parser.ConnOpen, f.Conn)
	assert.Equal(t, "TCP", f.Proto)
	assert.Equal(t, 54321, f.SrcPort)
	assert.Equal(t, 443, f.DstPort)
	assert.Equal(t, "AA-BB-CC-DD-EE-01", f.SrcMAC)
	assert.Equal(t, "trusted", f.SrcZone)
	assert.EqualValues(t, 1000, f.BytesOrig)
	assert.EqualValues(t, 2000, f.BytesTerm)
	assert.Equal(t, "allow-out", f.Rule)
	assert.Equal(t, "https", f.AppName)
}

func TestInControl_EventMapsToConn(t *testing.T) {
	p := parser.New(config.YearModeAuto)

	open := `<1>1 2026-02-09T07:32:47Z fw1 CONN : id=600004 event=conn_open_natsat [connsrcip=192.168.1.5 conndestip=1.1.1.1]`
	rec, perr := p.Parse(open)
	require.Nil(t, perr)
	assert.Equal(t, parser.ConnOpen, parser.ExtractConnFields(rec.KV).Conn)

	closed := `<1>1 2026-02-09T07:32:50Z fw1 CONN : id=600005 event=conn_close [connsrcip=192.168.1.5 conndestip=1.1.1.1 origsent=12 termsent=34]`
	rec, perr = p.Parse(closed)
	require.Nil(t, perr)
	f := parser.ExtractConnFields(rec.KV)
	assert.Equal(t, parser.ConnClose, f.Conn)
	assert.EqualValues(t, 12, f.BytesOrig)
}
