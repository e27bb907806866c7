package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCall(t *testing.T) {
	m := NewMetrics("test")
	m.RecordCall("decode_table", nil, 1024, 10, time.Millisecond)
	m.RecordCall("decode_table", errors.New("bad"), 10, 0, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("decode_table", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("decode_table", "error")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.RowsDecoded))
}

func TestUpdatePool(t *testing.T) {
	m := NewMetrics("test")
	m.UpdatePool(PoolStats{Active: 2, Idle: 3})
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PoolActive))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PoolIdle))
}

func TestDecoderRecordsMetrics(t *testing.T) {
	m := NewMetrics("test")
	d := NewInProcess(WithMetrics(m))

	table, err := d.DecodeTable(context.Background(), ipcBytes(t, 2, 3))
	require.NoError(t, err)
	table.Release()
	_, err = d.DecodeRecordBatch(context.Background(), ipcBytes(t, 2), WithChunkIndex(4))
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("decode_table", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("decode_record_batch", "error")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.RowsDecoded))
}

func TestMetricsServerHandler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordCall("decode_table", nil, 1, 1, time.Millisecond)
	s := NewMetricsServer(":0", m)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_decode_calls_total"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}
