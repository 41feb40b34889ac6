package exchange

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind 标识一次调用对应的工作流。
type Kind string

const (
	KindAddLiquidity   Kind = "addLiquidity"
	KindTokenToEthSwap Kind = "tokenToEthSwap"
	KindLiquidityState Kind = "liquidityState"
)

// Stage 是先授权后执行这一流程所处的阶段。
type Stage string

const (
	StageChecking      Stage = "checking"
	StageNeedsApproval Stage = "needs_approval"
	StageApproved      Stage = "approved"
	StageSubmitted     Stage = "submitted"
	StageSettled       Stage = "settled"
	StageFailed        Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StageChecking:      {StageNeedsApproval, StageApproved, StageFailed},
	StageNeedsApproval: {StageApproved, StageFailed},
	StageApproved:      {StageSubmitted, StageFailed},
	StageSubmitted:     {StageSettled, StageFailed},
}

// Terminal 判断阶段是否为终态。
func (s Stage) Terminal() bool {
	return s == StageSettled || s == StageFailed
}

// Transition 记录一次阶段变化。
type Transition struct {
	From   Stage     `json:"from"`
	To     Stage     `json:"to"`
	At     time.Time `json:"at"`
	TxHash string    `json:"tx_hash,omitempty"`
}

// Workflow 是单次调用内的状态机，不跨调用持久化。
// 授权已确认而主交易尚未提交时，阶段停留在 StageApproved，可被检查。
type Workflow struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Stage       Stage        `json:"stage"`
	ApprovalTx  common.Hash  `json:"approval_tx"`
	PrimaryTx   common.Hash  `json:"primary_tx"`
	Transitions []Transition `json:"transitions"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`

	now func() time.Time
}

func newWorkflow(id string, kind Kind, now func() time.Time) *Workflow {
	if now == nil {
		now = time.Now
	}
	return &Workflow{
		ID:        id,
		Kind:      kind,
		Stage:     StageChecking,
		StartedAt: now(),
		now:       now,
	}
}

// advance 按照允许的转换推进阶段，非法转换返回错误且不修改状态。
func (w *Workflow) advance(to Stage, txHash common.Hash) error {
	allowed := false
	for _, next := range stageTransitions[w.Stage] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("工作流 %s 不能从 %s 进入 %s", w.ID, w.Stage, to)
	}

	at := w.now()
	record := Transition{From: w.Stage, To: to, At: at}
	if txHash != (common.Hash{}) {
		record.TxHash = txHash.Hex()
	}
	w.Transitions = append(w.Transitions, record)
	w.Stage = to
	if to.Terminal() {
		w.FinishedAt = at
	}
	return nil
}

// fail 将任何非终态的工作流标记为失败。
func (w *Workflow) fail() {
	if w.Stage.Terminal() {
		return
	}
	_ = w.advance(StageFailed, common.Hash{})
}

// Snapshot 返回不与内部状态共享切片的副本。
func (w *Workflow) Snapshot() *Workflow {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Transitions = append([]Transition(nil), w.Transitions...)
	return &clone
}

// Duration 返回工作流耗时，未结束时返回 0。
func (w *Workflow) Duration() time.Duration {
	if w == nil || w.FinishedAt.IsZero() {
		return 0
	}
	return w.FinishedAt.Sub(w.StartedAt)
}
