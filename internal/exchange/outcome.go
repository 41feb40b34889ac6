package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

// Outcome 是一次调用返回给调用方的唯一结果：成功时携带摘要与交易哈希，
// 失败时携带原因与错误码。格式化之后不再修改。
type Outcome struct {
	RequestID string
	Kind      Kind
	Success   bool
	Summary   string
	TxHash    string
	Code      xerrors.Code
	Reason    string
	Err       error
	Pool      *PoolState
	Workflow  *Workflow
}

// SuccessOutcome 构造成功结果。
func SuccessOutcome(requestID string, kind Kind, summary, txHash string) Outcome {
	return Outcome{
		RequestID: requestID,
		Kind:      kind,
		Success:   true,
		Summary:   summary,
		TxHash:    txHash,
	}
}

// FailureOutcome 将任意错误压平为失败结果。
func FailureOutcome(requestID string, kind Kind, err error) Outcome {
	outcome := Outcome{
		RequestID: requestID,
		Kind:      kind,
		Code:      xerrors.CodeOf(err),
		Err:       err,
	}
	if e, ok := xerrors.From(err); ok {
		outcome.Reason = e.Reason()
	} else if err != nil {
		outcome.Reason = err.Error()
	}
	return outcome
}

// ApprovalTx 返回本次工作流提交的授权交易哈希，没有时为空。
func (o Outcome) ApprovalTx() string {
	if o.Workflow == nil || o.Workflow.ApprovalTx == (common.Hash{}) {
		return ""
	}
	return o.Workflow.ApprovalTx.Hex()
}

// Stage 返回工作流的最终阶段。
func (o Outcome) Stage() Stage {
	if o.Workflow == nil {
		if o.Success {
			return StageSettled
		}
		return StageFailed
	}
	return o.Workflow.Stage
}
