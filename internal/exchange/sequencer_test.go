package exchange

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

func newTestSequencer(t *testing.T, spy *spyLedger) *Sequencer {
	t.Helper()
	seq, err := NewSequencer(spy.ledger(), WithRequestIDs(func() string { return "req-test" }))
	require.NoError(t, err)
	return seq
}

func mustAmount(t *testing.T, text string) Amount {
	t.Helper()
	amount, err := ParseAmount(text, DefaultDecimals)
	require.NoError(t, err)
	return amount
}

func TestAddLiquiditySkipsApprovalWhenAllowanceCovers(t *testing.T) {
	spy := newSpyLedger()
	spy.allowance = ether(10)
	seq := newTestSequencer(t, spy)

	outcome := seq.AddLiquidity(context.Background(), mustAmount(t, "10"), mustAmount(t, "1"))

	require.True(t, outcome.Success, outcome.Reason)
	assert.Empty(t, spy.approvals)
	assert.Equal(t, []string{"allowance", "addLiquidity", "wait:addLiquidity"}, spy.callLog())
	assert.Empty(t, outcome.ApprovalTx())
	require.NotNil(t, outcome.Workflow)
	assert.Equal(t, StageSettled, outcome.Workflow.Stage)
	assert.Len(t, outcome.Workflow.Transitions, 3)
}

func TestAddLiquidityApprovesExactAmountThenDeposits(t *testing.T) {
	spy := newSpyLedger()
	seq := newTestSequencer(t, spy)

	outcome := seq.AddLiquidity(context.Background(), mustAmount(t, "10"), mustAmount(t, "1"))

	require.True(t, outcome.Success, outcome.Reason)
	require.Len(t, spy.approvals, 1)
	assert.Equal(t, 0, spy.approvals[0].Cmp(ether(10)))
	assert.Equal(t, testPool, spy.approvedTo[0])
	require.Len(t, spy.deposits, 1)
	assert.Equal(t, 0, spy.deposits[0][0].Cmp(ether(10)))
	assert.Equal(t, 0, spy.deposits[0][1].Cmp(ether(1)))
	assert.Equal(t, []string{
		"allowance", "approve", "wait:approve", "addLiquidity", "wait:addLiquidity",
	}, spy.callLog())

	text := Format(outcome)
	assert.Contains(t, text, outcome.TxHash)
	assert.Contains(t, text, "添加了 1 ETH 和 10 Token")
	assert.NotEmpty(t, outcome.ApprovalTx())
	assert.Equal(t, "req-test", outcome.RequestID)

	stages := make([]Stage, 0, len(outcome.Workflow.Transitions))
	for _, tr := range outcome.Workflow.Transitions {
		stages = append(stages, tr.To)
	}
	assert.Equal(t, []Stage{StageNeedsApproval, StageApproved, StageSubmitted, StageSettled}, stages)
}

func TestApprovalIncreaseIsNotDelta(t *testing.T) {
	spy := newSpyLedger()
	spy.allowance = ether(4)
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	require.True(t, outcome.Success, outcome.Reason)
	require.Len(t, spy.approvals, 1)
	assert.Equal(t, 0, spy.approvals[0].Cmp(ether(5)))
}

func TestZeroSpendStillCompares(t *testing.T) {
	spy := newSpyLedger()
	seq := newTestSequencer(t, spy)

	outcome := seq.AddLiquidity(context.Background(), mustAmount(t, "0"), mustAmount(t, "1"))

	require.True(t, outcome.Success, outcome.Reason)
	assert.Empty(t, spy.approvals)
	assert.Equal(t, "allowance", spy.callLog()[0])
}

func TestGuardFailureSkipsPrimaryCall(t *testing.T) {
	cases := map[string]func(*spyLedger){
		"approve rejected": func(s *spyLedger) {
			s.approveErr = xerrors.Wrap(xerrors.CodeLedgerRejection, stdErrors.New("insufficient funds for gas * price + value"), "")
		},
		"approval reverted": func(s *spyLedger) {
			s.waitErrs["approve"] = xerrors.New(xerrors.CodeLedgerRejection, "交易执行失败")
		},
		"allowance unreadable": func(s *spyLedger) {
			s.allowanceErr = xerrors.Wrap(xerrors.CodeConnectivity, stdErrors.New("connection refused"), "")
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			spy := newSpyLedger()
			setup(spy)
			seq := newTestSequencer(t, spy)

			outcome := seq.AddLiquidity(context.Background(), mustAmount(t, "10"), mustAmount(t, "1"))

			require.False(t, outcome.Success)
			assert.Equal(t, 0, spy.primaryCalls())
			assert.Equal(t, StageFailed, outcome.Stage())
			assert.Contains(t, Format(outcome), "添加流动性失败: ")
		})
	}
}

func TestApprovalFailureIsAuthorizationCode(t *testing.T) {
	spy := newSpyLedger()
	spy.waitErrs["approve"] = xerrors.New(xerrors.CodeLedgerRejection, "交易执行失败")
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	assert.Equal(t, xerrors.CodeAuthorization, outcome.Code)
	// 确定性的失败不会触发重新读取授权额度。
	assert.Equal(t, []string{"allowance", "approve", "wait:approve"}, spy.callLog())
	assert.NotEmpty(t, outcome.ApprovalTx())
}

func TestAmbiguousApprovalRechecksAllowance(t *testing.T) {
	spy := newSpyLedger()
	spy.allowances = []*big.Int{big.NewInt(0), ether(5)}
	spy.waitErrs["approve"] = xerrors.Wrap(xerrors.CodeTimeout, context.DeadlineExceeded, "等待交易确认超时")
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	require.True(t, outcome.Success, outcome.Reason)
	assert.Equal(t, []string{
		"allowance", "approve", "wait:approve", "allowance", "tokenToEthSwap", "wait:tokenToEthSwap",
	}, spy.callLog())
	require.Len(t, spy.swaps, 1)
}

func TestAmbiguousApprovalStillInsufficientFails(t *testing.T) {
	spy := newSpyLedger()
	spy.waitErrs["approve"] = xerrors.Wrap(xerrors.CodeConnectivity, stdErrors.New("EOF"), "")
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	require.False(t, outcome.Success)
	assert.Equal(t, xerrors.CodeAuthorization, outcome.Code)
	assert.Equal(t, 0, spy.primaryCalls())
	e, ok := xerrors.From(outcome.Err)
	require.True(t, ok)
	assert.Equal(t, outcome.ApprovalTx(), e.Metadata()["approval_tx"])
}

func TestSwapRevertSurfacesReason(t *testing.T) {
	spy := newSpyLedger()
	spy.waitErrs["tokenToEthSwap"] = xerrors.Wrap(xerrors.CodeLedgerRejection,
		stdErrors.New("execution reverted: INSUFFICIENT_LIQUIDITY"), "交易执行失败")
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	require.False(t, outcome.Success)
	assert.Equal(t, xerrors.CodeLedgerRejection, outcome.Code)
	assert.Contains(t, Format(outcome), "Token 换 ETH 失败: ")
	assert.Contains(t, Format(outcome), "INSUFFICIENT_LIQUIDITY")
	// Token 侧的唯一写入是授权。
	require.Len(t, spy.approvals, 1)
	assert.Equal(t, 0, spy.approvals[0].Cmp(ether(5)))
	require.Len(t, spy.swaps, 1)
	assert.Equal(t, 0, spy.swaps[0][1].Cmp(new(big.Int).Div(ether(1), big.NewInt(10))))
	assert.Equal(t, StageFailed, outcome.Stage())
}

func TestSubmitRejectionKeepsLedgerCode(t *testing.T) {
	spy := newSpyLedger()
	spy.allowance = ether(5)
	spy.submitErr = xerrors.Wrap(xerrors.CodeLedgerRejection, stdErrors.New("execution reverted: INSUFFICIENT_LIQUIDITY"), "")
	seq := newTestSequencer(t, spy)

	outcome := seq.TokenToEthSwap(context.Background(), mustAmount(t, "5"), mustAmount(t, "0.1"))

	assert.Equal(t, xerrors.CodeLedgerRejection, outcome.Code)
	assert.Equal(t, "execution reverted: INSUFFICIENT_LIQUIDITY", outcome.Reason)
	assert.Empty(t, outcome.TxHash)
}

func TestContextRequestIDIsUsed(t *testing.T) {
	spy := newSpyLedger()
	spy.allowance = ether(1)
	seq := newTestSequencer(t, spy)

	ctx := ContextWithRequestID(context.Background(), "from-caller")
	outcome := seq.AddLiquidity(ctx, mustAmount(t, "1"), mustAmount(t, "1"))

	assert.Equal(t, "from-caller", outcome.RequestID)
	assert.Equal(t, "from-caller", outcome.Workflow.ID)
}

func TestNewSequencerValidatesLedger(t *testing.T) {
	_, err := NewSequencer(&Ledger{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = NewSequencer(nil)
	require.Error(t, err)
}
