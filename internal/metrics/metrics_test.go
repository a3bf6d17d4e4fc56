package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		0:   "error",
		200: "2xx",
		204: "2xx",
		302: "3xx",
		404: "4xx",
		429: "4xx",
		503: "5xx",
	}
	for code, want := range tests {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "ok" || Outcome(errors.New("x")) != "error" {
		t.Error("unexpected outcome labels")
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(CacheLookups.WithLabelValues("hit"))
	CacheLookups.WithLabelValues("hit").Inc()
	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("hit")); got != before+1 {
		t.Errorf("hit counter = %v, want %v", got, before+1)
	}
}

func TestHandler(t *testing.T) {
	StreamBytes.Add(10)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ytresolve_stream_bytes_total") {
		t.Errorf("exposition missing stream bytes metric:\n%s", body)
	}
}
