package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/eventstream/internal/stream"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Plan(stream.Plan{Current: 120})
	m.Emitted(100, stream.SourceHistorical)
	m.Emitted(101, stream.SourceHistorical)
	m.Emitted(102, stream.SourceGapFill)
	m.Emitted(103, stream.SourceLive)
	m.DuplicateDropped(101)
	m.GapDetected(102, 110)
	m.LiveMessage("new_block")
	m.LiveMessage("new_block")
	m.LiveMessage("error")
	m.LiveState(stream.StateReceiving)
	m.ObserveWrite(time.Now(), nil)
	m.ObserveWrite(time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.emitted.WithLabelValues("historical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emitted.WithLabelValues("gap_fill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emitted.WithLabelValues("live")))
	assert.Equal(t, 103.0, testutil.ToFloat64(m.height))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.chainHeight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gaps))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.gapHeights))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.liveMessages.WithLabelValues("new_block")))
	assert.Equal(t, float64(stream.StateReceiving), testutil.ToFloat64(m.liveState))
	assert.Equal(t, 2, testutil.CollectAndCount(m.writes))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Emitted(7, stream.SourceLive)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `eventstream_emitted_total{source="live"} 1`)
	assert.Contains(t, string(body), "eventstream_height 7")
}
