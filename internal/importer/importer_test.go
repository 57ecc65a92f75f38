package importer

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
)

func TestWrapDecompressor_Plain(t *testing.T) {
	cr := &countingReader{r: strings.NewReader("hello\nworld\n")}
	r, err := wrapDecompressor(cr)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestWrapDecompressor_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("compressed line\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	cr := &countingReader{r: &buf}
	r, err := wrapDecompressor(cr)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "compressed line\n", string(data))
}

func TestWrapDecompressor_Empty(t *testing.T) {
	cr := &countingReader{r: strings.NewReader("")}
	r, err := wrapDecompressor(cr)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func sampleImporter() *Importer {
	p := parser.New(config.YearModeCurrent)
	pipe := NewPipeline(nil, p, nil, nil, stats.New(), logging.Default())
	return New(nil, pipe, "", logging.Default())
}

func TestSampleHostnames_ReadsLeadingRecords(t *testing.T) {
	im := sampleImporter()
	input := strings.Join([]string{
		`<134>Feb 10 17:37:13 fw1 EFW: CONN_OPEN: id=60 conn=open connsrcip=10.0.0.5`,
		`<134>Feb 10 17:37:14 fw1 EFW: CONN_CLOSE: id=60 conn=close connsrcip=10.0.0.5`,
		`not a syslog line at all`,
		`<134>Feb 10 17:37:15 fw2 EFW: CONN_OPEN: id=60 conn=open connsrcip=10.0.0.6`,
	}, "\n")

	hostnames := im.SampleHostnames(strings.NewReader(input), 10)
	assert.Equal(t, []string{"fw1", "fw1", "fw2"}, hostnames)
}

func TestSampleHostnames_RespectsLimit(t *testing.T) {
	im := sampleImporter()
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, `<134>Feb 10 17:37:13 fw1 EFW: CONN_OPEN: id=60 conn=open`)
	}
	hostnames := im.SampleHostnames(strings.NewReader(strings.Join(lines, "\n")), 5)
	assert.Len(t, hostnames, 5)
}

func TestSampleHostnames_GzipInput(t *testing.T) {
	im := sampleImporter()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`<134>Feb 10 17:37:13 fw9 EFW: CONN_OPEN: id=60 conn=open` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	hostnames := im.SampleHostnames(&buf, 10)
	assert.Equal(t, []string{"fw9"}, hostnames)
}
