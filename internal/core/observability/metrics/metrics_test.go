package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EntityCreated("object")
		m.EntityDestroyed("object")
		m.Denied("ObjectManager_CreateRemoteObject")
		m.AllocationDropped("component")
		m.RolledBack()
		m.ObserveTick(0.01)
	})
	assert.Nil(t, m.Registry())
}

func TestEntityCounters(t *testing.T) {
	m := New()
	m.EntityCreated("object")
	m.EntityCreated("object")
	m.EntityDestroyed("object")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntitiesCreated.WithLabelValues("object")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesAlive.WithLabelValues("object")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesDestroyed.WithLabelValues("object")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Denied("Object_UnparentOnOtherObject")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "authority_permission_denied_total"))
}
