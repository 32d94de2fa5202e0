package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsRepeatable(t *testing.T) {
	// Each instance registers on its own registry, so constructing twice
	// must not panic on duplicate registration.
	require.NotNil(t, New())
	require.NotNil(t, New())
}

func TestCounters(t *testing.T) {
	m := New()
	m.RingOverflows.Inc()
	m.RingOverflows.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RingOverflows))

	m.RecordSessionFinished("dispatched", 3*time.Second)
	m.RecordSessionFinished("cancelled", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("dispatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("cancelled")))

	m.RecordDispatchResult("ok", 500*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("ok")))
}

func TestScrapeHandler(t *testing.T) {
	m := New()
	m.FramesCaptured.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "echoes_frames_captured_total 1")
}

func TestServeAndClose(t *testing.T) {
	m := New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := m.Serve("127.0.0.1:0", logger)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}
