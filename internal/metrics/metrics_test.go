package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ExposesCacheMetrics(t *testing.T) {
	CacheOperations.WithLabelValues("test", "get", "hit").Inc()
	CacheEntries.WithLabelValues("test").Set(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"llmcache_store_operations_total", "llmcache_store_entries"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}

	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("test")); got != 3 {
		t.Errorf("CacheEntries = %v, want 3", got)
	}
}
