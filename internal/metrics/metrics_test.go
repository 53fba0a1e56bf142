package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	m := NewPrometheus()

	m.IncSent("photo", true)
	m.IncSent("photo", true)
	m.IncSent("photo", false)
	m.IncDeleted(false)
	m.IncSyncFile("conflict")
	m.IncSyncRun("manual", true)
	m.ObserveSyncDuration(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sent.WithLabelValues("photo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("photo", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deleted.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncFiles.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("manual", "true")))
}

func TestPrometheus_Handler(t *testing.T) {
	m := NewPrometheus()
	m.IncPageRendered("EW", "fresh")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gpb_pages_rendered_total{dataset="EW",trigger="fresh"} 1`)
}

func TestNoop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.IncSent("text", true)
	r.ObserveSyncDuration(time.Second)
}
