package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/internal/exchange"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	return rec.Body.String()
}

func TestRegistryCountsOutcomes(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	r.Observe(ctx, exchange.SuccessOutcome("a", exchange.KindAddLiquidity, "ok", "0x1"))
	r.Observe(ctx, exchange.SuccessOutcome("b", exchange.KindAddLiquidity, "ok", "0x2"))
	r.Observe(ctx, exchange.FailureOutcome("c", exchange.KindTokenToEthSwap,
		xerrors.New(xerrors.CodeLedgerRejection, "execution reverted")))

	body := scrape(t, r)
	assert.Contains(t, body, `exchange_mcp_workflows_total{workflow="addLiquidity",code="OK"} 2`)
	assert.Contains(t, body, `exchange_mcp_workflows_total{workflow="tokenToEthSwap",code="LEDGER_REJECTED"} 1`)
	assert.Less(t, strings.Index(body, `workflow="addLiquidity"`), strings.Index(body, `workflow="tokenToEthSwap"`))
}

func TestHistogramBuckets(t *testing.T) {
	h := newHistogram()
	h.observe(0.3)
	h.observe(7)
	h.observe(500)

	assert.Equal(t, uint64(3), h.count)
	assert.Equal(t, uint64(0), h.counts[0], "le=0.1")
	assert.Equal(t, uint64(1), h.counts[1], "le=0.5")
	assert.Equal(t, uint64(2), h.counts[5], "le=10")
	assert.Equal(t, uint64(2), h.counts[len(h.counts)-1], "values above the last bucket only land in +Inf")
	assert.InDelta(t, 507.3, h.sum, 1e-9)
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	r := NewRegistry()
	handler := r.Middleware("mcp", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/mcp", nil))

	body := scrape(t, r)
	assert.Contains(t, body, `exchange_mcp_http_requests_total{handler="mcp",method="POST",code="200"} 1`)
	assert.Contains(t, body, `exchange_mcp_http_requests_total{handler="mcp",method="DELETE",code="405"} 1`)
	assert.Contains(t, body, `exchange_mcp_http_request_duration_seconds_count{handler="mcp"} 2`)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\"b\\c`, escape("a\"b\\c\n"))
}

func TestServeRequiresAddress(t *testing.T) {
	assert.Error(t, NewRegistry().Serve(context.Background(), ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewRegistry().Serve(ctx, "127.0.0.1:0")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
