package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	s := file.NewSpoolStore(2, 0644, file.WithThreshold(4), file.WithSpoolDir(t.TempDir()), file.WithMetrics(m))
	other := file.NewSpoolStore(3, 0644, file.WithMetrics(m))
	assert.EqualValues(t, 2, testutil.ToFloat64(m.stores.WithLabelValues("memory")))

	require.NoError(t, s.Open())
	_, err := s.Write([]byte("abc"), 0)
	require.NoError(t, err)
	_, err = s.Write([]byte("defg"), 3)
	require.NoError(t, err)

	assert.EqualValues(t, 1, testutil.ToFloat64(m.migrations))
	assert.EqualValues(t, 3, testutil.ToFloat64(m.migratedBytes))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.stores.WithLabelValues("memory")))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.stores.WithLabelValues("disk")))

	require.NoError(t, s.Cleanup())
	require.NoError(t, other.Cleanup())
	assert.EqualValues(t, 0, testutil.ToFloat64(m.stores.WithLabelValues("memory")))
	assert.EqualValues(t, 0, testutil.ToFloat64(m.stores.WithLabelValues("disk")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "spoolfs_migrations_total 1"))
}
