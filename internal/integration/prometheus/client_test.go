package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const matrixResponse = `{
  "status": "success",
  "data": {
    "resultType": "matrix",
    "result": [
      {"metric": {"instance": "web-01"}, "values": [[1700000000, "10"], [1700000060, "20"]]},
      {"metric": {"instance": "web-02"}, "values": [[1700000000, "30"], [1700000060, "40"]]}
    ]
  }
}`

func newTestServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/query_range":
			_ = r.ParseForm()
			lastQuery = r.Form.Get("query")
			_, _ = w.Write([]byte(matrixResponse))
		case "/api/v1/status/buildinfo":
			_, _ = w.Write([]byte(`{"status":"success","data":{"version":"2.53.0"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastQuery
}

func TestQueryRangeAveragesSeries(t *testing.T) {
	srv, lastQuery := newTestServer(t)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	end := time.Unix(1700000060, 0)
	points, err := c.QueryRange(context.Background(), `up{instance=~"web.*"}`, end.Add(-time.Minute), end, time.Minute)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 20.0, points[0].Value)
	assert.Equal(t, 30.0, points[1].Value)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))
	assert.Equal(t, `up{instance=~"web.*"}`, *lastQuery)
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	down.Close()
	c, err = NewClient(down.URL, nil)
	require.NoError(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestMergeSeriesEmpty(t *testing.T) {
	assert.Nil(t, mergeSeries(nil))
}
