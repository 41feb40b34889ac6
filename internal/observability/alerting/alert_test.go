package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/internal/exchange"
)

type captureNotifier struct {
	channel Channel
	mu      sync.Mutex
	events  []Event
	err     error
}

func (c *captureNotifier) Channel() Channel { return c.channel }

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func connectivityFailure() exchange.Outcome {
	err := xerrors.Wrap(xerrors.CodeConnectivity, errors.New("dial tcp 127.0.0.1:8545: connection refused"),
		"读取 Token 储备失败", xerrors.WithMetadata("pool", "0x01"))
	return exchange.FailureOutcome("req-1", exchange.KindLiquidityState, err)
}

func TestEventFromOutcome(t *testing.T) {
	at := time.Unix(100, 0)

	event, ok := EventFromOutcome(connectivityFailure(), at)
	require.True(t, ok)
	assert.Equal(t, xerrors.CodeConnectivity, event.Code)
	assert.Equal(t, xerrors.SeverityCritical, event.Severity)
	assert.Equal(t, "0x01", event.Metadata["pool"])
	assert.Equal(t, "failed", event.Stage)

	_, ok = EventFromOutcome(exchange.SuccessOutcome("req-2", exchange.KindAddLiquidity, "ok", "0x1"), at)
	assert.False(t, ok)

	rejected := exchange.FailureOutcome("req-3", exchange.KindTokenToEthSwap,
		xerrors.New(xerrors.CodeLedgerRejection, "execution reverted: INSUFFICIENT_LIQUIDITY"))
	_, ok = EventFromOutcome(rejected, at)
	assert.False(t, ok, "ledger rejections are business outcomes, not alerts")

	parse := exchange.FailureOutcome("req-4", exchange.KindAddLiquidity, xerrors.New(xerrors.CodeParse, "参数无效"))
	_, ok = EventFromOutcome(parse, at)
	assert.False(t, ok)
}

func TestFanoutDispatcher(t *testing.T) {
	ok := &captureNotifier{channel: ChannelLog}
	failing := &captureNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(ok, nil, failing)

	assert.Equal(t, []Channel{ChannelLog, ChannelWebhook}, d.Channels())

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeTimeout})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), Event{}))
}

func TestObserverOnlyAlertsOnAlertableFailures(t *testing.T) {
	capture := &captureNotifier{channel: ChannelLog}
	observer := NewObserver(NewFanout(capture))

	ctx := context.Background()
	observer.Observe(ctx, exchange.SuccessOutcome("req-ok", exchange.KindAddLiquidity, "ok", "0x1"))
	observer.Observe(ctx, connectivityFailure())

	require.Len(t, capture.events, 1)
	assert.Equal(t, "req-1", capture.events[0].RequestID)
}

func TestLogNotifier(t *testing.T) {
	event, _ := EventFromOutcome(connectivityFailure(), time.Now())
	assert.NoError(t, (&LogNotifier{}).Notify(context.Background(), event))
	assert.Equal(t, ChannelLog, (&LogNotifier{}).Channel())
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	event, _ := EventFromOutcome(connectivityFailure(), time.Unix(100, 0))
	require.NoError(t, n.Notify(context.Background(), event))
	assert.Equal(t, "req-1", received.RequestID)
	assert.Equal(t, xerrors.CodeConnectivity, received.Code)
}

func TestWebhookNotifierOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, FailureThreshold: 2, OpenTimeout: time.Minute})
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorContains(t, n.Notify(ctx, Event{}), "502")
	assert.ErrorContains(t, n.Notify(ctx, Event{}), "502")
	assert.ErrorIs(t, n.Notify(ctx, Event{}), gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookConfig{})
	assert.Error(t, err)
}
