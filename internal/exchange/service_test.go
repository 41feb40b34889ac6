package exchange

import (
	"context"
	stdErrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingObserver) Observe(_ context.Context, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newTestService(t *testing.T, spy *spyLedger, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(spy.ledger(), opts...)
	require.NoError(t, err)
	return svc
}

func TestServiceRejectsMalformedAmountWithoutLedgerCalls(t *testing.T) {
	spy := newSpyLedger()
	obs := &recordingObserver{}
	svc := newTestService(t, spy, WithObservers(obs))

	outcome := svc.AddLiquidity(context.Background(), "abc", "1")

	require.False(t, outcome.Success)
	assert.Equal(t, xerrors.CodeParse, outcome.Code)
	assert.Empty(t, spy.callLog())
	assert.Contains(t, Format(outcome), "添加流动性失败: 参数 amountOfToken 无效")
	require.Len(t, obs.outcomes, 1)
	assert.Nil(t, obs.outcomes[0].Workflow)
}

func TestServiceValidatesSecondArgumentBeforeLedger(t *testing.T) {
	spy := newSpyLedger()
	svc := newTestService(t, spy)

	outcome := svc.TokenToEthSwap(context.Background(), "5", "0.1.2")

	assert.Equal(t, xerrors.CodeParse, outcome.Code)
	assert.Contains(t, outcome.Reason, "minEthToReceive")
	assert.Empty(t, spy.callLog())
}

func TestServiceAddLiquidityNotifiesObservers(t *testing.T) {
	spy := newSpyLedger()
	obs := &recordingObserver{}
	svc := newTestService(t, spy,
		WithObservers(obs, nil),
		WithRequestIDs(func() string { return "req-42" }),
	)

	outcome := svc.AddLiquidity(context.Background(), "10", "1")

	require.True(t, outcome.Success, outcome.Reason)
	require.Len(t, obs.outcomes, 1)
	assert.Equal(t, "req-42", obs.outcomes[0].RequestID)
	assert.Equal(t, outcome.TxHash, obs.outcomes[0].TxHash)
	assert.Equal(t, testSigner, svc.Signer())
	assert.Equal(t, testPool, svc.PoolAddress())
}

func TestLiquidityStateFormatsBalances(t *testing.T) {
	spy := newSpyLedger()
	spy.reserve = ether(100)
	spy.balance = new(big.Int).Div(ether(1), big.NewInt(2))
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, spy, WithClock(func() time.Time { return at }))

	outcome := svc.LiquidityState(context.Background())

	require.True(t, outcome.Success, outcome.Reason)
	require.NotNil(t, outcome.Pool)
	assert.Equal(t, testPool, outcome.Pool.Pool)
	assert.Equal(t, at, outcome.Pool.ReadAt)
	assert.Equal(t, "当前池子状态:\nToken 余额: 100\nETH 余额: 0.5", Format(outcome))
	assert.Equal(t, []string{"reserve", "balance"}, spy.callLog())
}

func TestLiquidityStateUnreachableNode(t *testing.T) {
	spy := newSpyLedger()
	spy.reserveErr = xerrors.Wrap(xerrors.CodeConnectivity,
		stdErrors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), "节点不可达")
	svc := newTestService(t, spy)

	outcome := svc.LiquidityState(context.Background())

	require.False(t, outcome.Success)
	assert.Equal(t, xerrors.CodeConnectivity, outcome.Code)
	text := Format(outcome)
	assert.Contains(t, text, "获取流动性信息失败: ")
	assert.Contains(t, text, "connection refused")
}

func TestFormatEmptyReasonUsesUnknownMarker(t *testing.T) {
	outcome := FailureOutcome("req", KindTokenToEthSwap, xerrors.New(xerrors.CodeUnknown, " "))
	assert.Equal(t, "Token 换 ETH 失败: 未知错误", Format(outcome))

	nilErr := FailureOutcome("req", KindAddLiquidity, nil)
	assert.Equal(t, "添加流动性失败: 未知错误", Format(nilErr))
	assert.Equal(t, xerrors.CodeUnknown, nilErr.Code)
}

func TestObserverFuncAdapter(t *testing.T) {
	var got Outcome
	obs := ObserverFunc(func(_ context.Context, o Outcome) { got = o })
	obs.Observe(context.Background(), SuccessOutcome("r", KindAddLiquidity, "ok", "0x1"))
	assert.Equal(t, "ok", got.Summary)
}
