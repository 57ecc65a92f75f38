package httpapi

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/graph"
)

func graphURL(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/api/graph?" + q.Encode()
}

func validGraphParams() map[string]string {
	return map[string]string{
		"device_key": "fw1",
		"src_kind":   "zone",
		"src_value":  "trusted",
		"dst_kind":   "any",
		"time_from":  "2026-02-10T00:00:00Z",
		"time_to":    "2026-02-10T12:00:00Z",
	}
}

func TestParseGraphRequest_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", graphURL(validGraphParams()), nil)
	req, err := parseGraphRequest(r)
	require.NoError(t, err)
	assert.Equal(t, graph.ViewOriginal, req.View)
	assert.Equal(t, graph.DestViewEndpoints, req.DestView)
	assert.Equal(t, "fw1", req.DeviceKey)
}

func TestParseGraphRequest_DstValueIgnoredForAny(t *testing.T) {
	params := validGraphParams()
	params["dst_value"] = "should-be-ignored"
	r := httptest.NewRequest("GET", graphURL(params), nil)
	req, err := parseGraphRequest(r)
	require.NoError(t, err)
	assert.Empty(t, req.DstValue)
}

func TestParseGraphRequest_DstValueRequiredOtherwise(t *testing.T) {
	params := validGraphParams()
	params["dst_kind"] = "zone"
	r := httptest.NewRequest("GET", graphURL(params), nil)
	_, err := parseGraphRequest(r)
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidationError, apierr.As(err).Kind)
}

func TestParseGraphRequest_MissingRequired(t *testing.T) {
	for _, drop := range []string{"device_key", "src_kind", "src_value", "dst_kind", "time_from", "time_to"} {
		params := validGraphParams()
		delete(params, drop)
		r := httptest.NewRequest("GET", graphURL(params), nil)
		_, err := parseGraphRequest(r)
		require.Error(t, err, drop)
		assert.Equal(t, apierr.KindValidationError, apierr.As(err).Kind, drop)
	}
}

func TestParseGraphRequest_RejectsBadEnums(t *testing.T) {
	for param, bad := range map[string]string{
		"src_kind":  "subnet",
		"dst_kind":  "subnet",
		"view":      "nat",
		"dest_view": "hosts",
	} {
		params := validGraphParams()
		if param == "dst_kind" {
			params["dst_value"] = "x"
		}
		params[param] = bad
		r := httptest.NewRequest("GET", graphURL(params), nil)
		_, err := parseGraphRequest(r)
		require.Error(t, err, param)
	}
}

func TestParseWindow_RejectsReversedWindow(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?time_from=2026-02-10T12:00:00Z&time_to=2026-02-10T00:00:00Z", nil)
	_, _, err := parseWindow(r)
	require.Error(t, err)
}

func TestParseWindow_AcceptsUnixMillis(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?time_from=1770000000000&time_to=1770003600000", nil)
	from, to, err := parseWindow(r)
	require.NoError(t, err)
	assert.True(t, to.After(from))
}

func TestIntQuery_ClampsToMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?limit=9999", nil)
	assert.Equal(t, 100, intQuery(r, "limit", 50, 100))
	assert.Equal(t, 50, intQuery(r, "missing", 50, 100))

	bad := httptest.NewRequest("GET", "/x?limit=-3", nil)
	assert.Equal(t, 50, intQuery(bad, "limit", 50, 100))
}
