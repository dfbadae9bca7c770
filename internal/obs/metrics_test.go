package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora.org/internal/governance"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/groups":                         "/v1/groups",
		"/v1/groups/01HZX":                   "/v1/groups/:id",
		"/v1/groups/01HZX/proposals":         "/v1/groups/:id/proposals",
		"/v1/groups/01HZX/proposals/history": "/v1/groups/:id/proposals/history",
		"/v1/groups/01HZX/logs?limit=10":     "/v1/groups/:id/logs",
		"/v1/join-requests/01HZY/votes":      "/v1/join-requests/:id/votes",
		"/v1/proposals/01HZZ/votes":          "/v1/proposals/:id/votes",
		"/v1/auth/token":                     "/v1/auth/token",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/groups/:id", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/groups/abc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/groups/:id", "418"))
	assert.Equal(t, before+1, after)
}

func TestGovernanceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewGovernanceMetrics(reg)
	require.NoError(t, err)

	m.ProposalCreated(governance.CategoryPerson, governance.ActionKick)
	m.Resolved("proposal", "approved")
	m.Resolved("proposal", "approved")
	m.VoteCast("join_request")
	m.NotificationFailed()
	m.SweepResolved(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.proposalsCreated.WithLabelValues("person", "kick")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("proposal", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votes.WithLabelValues("join_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsFailed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepResolved))

	_, err = NewGovernanceMetrics(reg)
	assert.Error(t, err, "collectors register once per registry")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)

	SetLogger(l)
	assert.Same(t, l, Logger())
	SetLogger(nil)
	assert.NotNil(t, Logger())
}
