package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
)

func TestParser_BSDConnOpen(t *testing.T) {
	p := parser.New(config.YearModeCurrent)
	line := `<134>Feb 10 17:37:13 fw1 EFW: CONN_OPEN: id=60 rev=1 conn=Open connipproto=6 connsrcip=10.0.0.5 connsrcport=51000 conndestip=93.184.216.34 conndestport=443`

	rec, perr := p.Parse(line)
	require.Nil(t, perr)
	require.NotNil(t, rec)
	assert.Equal(t, parser.KindConn, rec.Kind)
	assert.Equal(t, "fw1", rec.DeviceHint)

	fields := parser.ExtractConnFields(rec.KV)
	assert.Equal(t, parser.ConnOpen, fields.Conn)
	assert.Equal(t, "10.0.0.5", fields.SrcIP)
	assert.Equal(t, 51000, fields.SrcPort)
	assert.Equal(t, "93.184.216.34", fields.DstIP)
	assert.Equal(t, 443, fields.DstPort)
}

func TestParser_RFC5424Close(t *testing.T) {
	p := parser.New(config.YearModeAuto)
	line := `<134>1 2026-02-10T18:57:45.970+01:00 fw2 EFW - - - CONN_CLOSE: id=0060 conn=close connipproto=17 connsrcip=10.0.0.7 connsrcport=5000 conndestip=8.8.8.8 conndestport=53 origsent=120 termsent=300`

	rec, perr := p.Parse(line)
	require.Nil(t, perr)
	require.NotNil(t, rec)
	assert.Equal(t, parser.KindConn, rec.Kind)

	fields := parser.ExtractConnFields(rec.KV)
	assert.Equal(t, parser.ConnClose, fields.Conn)
	assert.EqualValues(t, 120, fields.BytesOrig)
	assert.EqualValues(t, 300, fields.BytesTerm)
}

func TestParser_InControlNested(t *testing.T) {
	p := parser.New(config.YearModeAuto)
	line := `<1>1 2026-02-09T07:32:47Z 15c8cb06-fw CONN : id=600004 event=conn_open_natsat [connsrcip=192.168.1.5 conndestip=1.1.1.1 [connsrcport=4000 conndestport=80]]`

	rec, perr := p.Parse(line)
	require.Nil(t, perr)
	require.NotNil(t, rec)
	assert.Equal(t, parser.KindConn, rec.Kind)
	assert.Equal(t, "192.168.1.5", rec.KV["connsrcip"])
	assert.Equal(t, "4000", rec.KV["connsrcport"])
}

func TestParser_DeviceRecord(t *testing.T) {
	p := parser.New(config.YearModeAuto)
	line := `<134>Feb 10 17:37:13 fw1 EFW: DEVICEID: id=89 srcmac=aa:bb:cc:dd:ee:ff device_ip4=10.0.0.5 device_vendor=Acme hostname=laptop1`

	rec, perr := p.Parse(line)
	require.Nil(t, perr)
	require.NotNil(t, rec)
	assert.Equal(t, parser.KindDevice, rec.Kind)

	fields := parser.ExtractDeviceFields(rec.KV)
	assert.Equal(t, "AA-BB-CC-DD-EE-FF", fields.MAC)
	assert.Equal(t, "10.0.0.5", fields.IP)
	assert.Equal(t, "Acme", fields.Vendor)
	assert.Equal(t, "laptop1", fields.Hostname)
}

func TestParser_MalformedLine(t *testing.T) {
	p := parser.New(config.YearModeAuto)
	_, perr := p.Parse("this is not a syslog line at all")
	require.NotNil(t, perr)
	assert.Equal(t, parser.ErrMalformed, perr.Kind)
}

func TestNormalizeMAC(t *testing.T) {
	cases := map[string]string{
		"aa:bb:cc:dd:ee:ff": "AA-BB-CC-DD-EE-FF",
		"AA-BB-CC-DD-EE-FF": "AA-BB-CC-DD-EE-FF",
		"aabb.ccdd.eeff":    "AA-BB-CC-DD-EE-FF",
		"aabbccddeeff":      "AA-BB-CC-DD-EE-FF",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, parser.NormalizeMAC(in), "input %q", in)
	}
	assert.Equal(t, "NOTAMAC", parser.NormalizeMAC("notamac"))
}

func TestReassembler_Continuation(t *testing.T) {
	r := parser.NewReassembler()

	out, ok := r.Feed(`<134>Feb 10 17:37:13 fw1 EFW: CONN_OPEN: id=60 conn=Open connsrcip=10.0.0.5`)
	assert.False(t, ok)
	assert.Empty(t, out)

	out, ok = r.Feed(`continued-without-prefix more=data`)
	assert.False(t, ok)

	out, ok = r.Feed(`<134>Feb 10 17:37:14 fw1 EFW: CONN_CLOSE: id=60 conn=close connsrcip=10.0.0.5`)
	require.True(t, ok)
	assert.Contains(t, out, "continued-without-prefix more=data")

	out, ok = r.Flush()
	require.True(t, ok)
	assert.Contains(t, out, "CONN_CLOSE")
}
