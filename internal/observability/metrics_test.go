package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/wampd/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("realm1", "GET", "/healthz", 200, 12*time.Millisecond)
	RecordMessage(Inbound, "CALL")
	RecordCall(CallOK)
	AddSessions(1)
	AddSessions(-1)
	AddRegistrations(1)
	AddSubscriptions(1)
}

func TestRecordPublicationCountsEvents(t *testing.T) {
	testlog.Start(t)
	pubs := testutil.ToFloat64(publications)
	events := testutil.ToFloat64(eventsDelivered)

	RecordPublication(3)

	if got := testutil.ToFloat64(publications) - pubs; got != 1 {
		t.Fatalf("publications delta got=%v", got)
	}
	if got := testutil.ToFloat64(eventsDelivered) - events; got != 3 {
		t.Fatalf("events delta got=%v", got)
	}
}

func TestRequestMetricsMiddlewareUsesRoutePath(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestMetricsMiddleware("mw-realm"))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-realm", "GET", "/items/:id", "204"))
	if got != 1 {
		t.Fatalf("route counter got=%v", got)
	}
}
