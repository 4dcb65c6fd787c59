package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRoute(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/ws/room-1", "/ws/:roomId"},
		{"/api/chat/authorizations", "/api/chat/authorizations"},
		{"/api/chat/authorizations/8f2c", "/api/chat/authorizations/:correlationId"},
		{"/api/chat/watch/rooms", "/api/chat/:kind/rooms"},
		{"/api/chat/match/rooms/abc/join", "/api/chat/:kind/rooms/:roomId/join"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalRoute(tc.path), tc.path)
	}
}

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(decisions.WithLabelValues("WATCH", "authorized"))
	RecordDecision("WATCH", "authorized", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(decisions.WithLabelValues("WATCH", "authorized")))

	before = testutil.ToFloat64(decisions.WithLabelValues("unknown", "validation"))
	RecordDecision("", "validation", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(decisions.WithLabelValues("unknown", "validation")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordDispatch("MATCH", true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fanchat_bridge_dispatches_total")
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "418")))
}
