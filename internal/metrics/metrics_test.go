package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/balancepoint/internal/models"
)

func TestRecordEstimate(t *testing.T) {
	RecordEstimate(models.Estimate{
		Fit:          models.Fit{Slope: -0.1, Intercept: 6.876, RSquared: 0.93, N: 42},
		BalancePoint: 65,
	}, 50)

	assert.Equal(t, 65.0, testutil.ToFloat64(BalancePoint))
	assert.Equal(t, -0.1, testutil.ToFloat64(FitSlope))
	assert.Equal(t, 6.876, testutil.ToFloat64(FitIntercept))
	assert.Equal(t, 0.93, testutil.ToFloat64(FitRSquared))
	assert.Equal(t, 42.0, testutil.ToFloat64(DaysFitted))
	assert.Equal(t, 50.0, testutil.ToFloat64(DaysJoined))
}

func TestObserveQuery(t *testing.T) {
	before := testutil.ToFloat64(StoreQueriesTotal.WithLabelValues("test", "sum", "error"))
	ObserveQuery("test", "sum", time.Now(), errors.New("boom"))
	ObserveQuery("test", "sum", time.Now(), nil)

	assert.Equal(t, before+1, testutil.ToFloat64(StoreQueriesTotal.WithLabelValues("test", "sum", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(StoreQueryLatency, "balancepoint_store_query_latency_seconds"))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	RecordOutliers(2.5, 0.1)
	require.NoError(t, Push(context.Background(), srv.URL, "house"))
	assert.Equal(t, "/metrics/job/balancepoint/instance/house", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "push metrics:"))
}
