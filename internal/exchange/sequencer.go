package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/pkg/logger"
)

// Sequencer 组合授权守卫与主交易，按 检查授权 → 授权 → 等待授权确认 → 提交主交易 → 等待确认
// 的顺序执行，任何一步都不会被重排或并行。
//
// 前置条件：同一签名者同一时刻最多只有一个工作流在执行。Sequencer 本身不加锁，
// 串行化由调用方（见 internal/mcpserver 与 internal/lock）保证。
type Sequencer struct {
	ledger *Ledger
	guard  *AllowanceGuard
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option 定义 Sequencer 与 Service 的可选配置。
type Option func(*options)

type options struct {
	now       func() time.Time
	newID     func() string
	observers []Observer
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRequestIDs 替换请求 ID 生成器。
func WithRequestIDs(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithObservers 注册在每次调用结束后接收结果的观察者。
func WithObservers(observers ...Observer) Option {
	return func(o *options) {
		for _, obs := range observers {
			if obs != nil {
				o.observers = append(o.observers, obs)
			}
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewSequencer 基于已校验的链上上下文创建 Sequencer。
func NewSequencer(ledger *Ledger, opts ...Option) (*Sequencer, error) {
	if err := ledger.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Sequencer{
		ledger: ledger,
		guard:  NewAllowanceGuard(ledger.Token, ledger.Chain),
		logger: logger.Named("sequencer"),
		now:    o.now,
		newID:  o.newID,
	}, nil
}

// AddLiquidity 授权 tokenAmount 后调用 addLiquidity，并附带 baseAmount 的 ETH。
func (s *Sequencer) AddLiquidity(ctx context.Context, tokenAmount, baseAmount Amount) Outcome {
	return s.run(ctx, KindAddLiquidity, tokenAmount,
		func(ctx context.Context) (*types.Transaction, error) {
			return s.ledger.Pool.AddLiquidity(ctx, tokenAmount.Int(), baseAmount.Int())
		},
		func(txHash string) string {
			return fmt.Sprintf("成功添加流动性! 交易哈希: %s\n添加了 %s ETH 和 %s Token", txHash, baseAmount.Text(), tokenAmount.Text())
		},
	)
}

// TokenToEthSwap 授权 tokensIn 后卖出换取 ETH，minBaseOut 原样作为滑点下限传给合约。
func (s *Sequencer) TokenToEthSwap(ctx context.Context, tokensIn, minBaseOut Amount) Outcome {
	return s.run(ctx, KindTokenToEthSwap, tokensIn,
		func(ctx context.Context) (*types.Transaction, error) {
			return s.ledger.Pool.TokenToEthSwap(ctx, tokensIn.Int(), minBaseOut.Int())
		},
		func(txHash string) string {
			return fmt.Sprintf("Token 换 ETH 成功! 交易哈希: %s\n使用 %s Token 交换了 ETH（最少接收 %s ETH）", txHash, tokensIn.Text(), minBaseOut.Text())
		},
	)
}

func (s *Sequencer) run(
	ctx context.Context,
	kind Kind,
	spend Amount,
	submit func(context.Context) (*types.Transaction, error),
	summary func(txHash string) string,
) Outcome {
	requestID := requestIDFrom(ctx, s.newID)
	wf := newWorkflow(requestID, kind, s.now)
	log := s.logger.With(slog.String("request_id", requestID), slog.String("workflow", string(kind)))

	finish := func(outcome Outcome) Outcome {
		outcome.Workflow = wf.Snapshot()
		attrs := []any{
			slog.String("stage", string(wf.Stage)),
			slog.Duration("elapsed", wf.Duration()),
		}
		if outcome.Success {
			log.Info("工作流完成", append(attrs, slog.String("tx_hash", outcome.TxHash))...)
			logger.Audit().Info("链上交易已确认",
				slog.String("request_id", requestID),
				slog.String("workflow", string(kind)),
				slog.String("tx_hash", outcome.TxHash),
				slog.String("approval_tx", outcome.ApprovalTx()),
			)
		} else {
			log.Warn("工作流失败", append(attrs, slog.String("error_code", string(outcome.Code)), slog.String("reason", outcome.Reason))...)
			logger.Audit().Warn("工作流失败",
				slog.String("request_id", requestID),
				slog.String("workflow", string(kind)),
				slog.String("error_code", string(outcome.Code)),
				slog.String("approval_tx", outcome.ApprovalTx()),
			)
		}
		return outcome
	}
	fail := func(err error) Outcome {
		wf.fail()
		return finish(FailureOutcome(requestID, kind, err))
	}

	owner := s.ledger.Signer
	spender := s.ledger.Pool.Address()

	approval, err := s.guard.Ensure(ctx, owner, spender, spend)
	if approval.Submitted {
		wf.ApprovalTx = approval.Tx
		_ = wf.advance(StageNeedsApproval, approval.Tx)
	}
	if err != nil {
		return fail(err)
	}
	if err := wf.advance(StageApproved, approval.Tx); err != nil {
		return fail(xerrors.Wrap(xerrors.CodeUnknown, err, "工作流状态异常"))
	}

	tx, err := submit(ctx)
	if err != nil {
		return fail(keepCode(err, "提交交易失败"))
	}
	if tx == nil {
		return fail(xerrors.New(xerrors.CodeLedgerRejection, "交易未返回交易句柄"))
	}
	wf.PrimaryTx = tx.Hash()
	_ = wf.advance(StageSubmitted, wf.PrimaryTx)
	log.Info("已提交交易", slog.String("tx_hash", wf.PrimaryTx.Hex()))

	receipt, err := s.ledger.Chain.WaitConfirmed(ctx, tx)
	if err != nil {
		return fail(keepCode(err, "等待交易确认失败"))
	}
	txHash := wf.PrimaryTx.Hex()
	if receipt != nil && receipt.TxHash != (common.Hash{}) {
		txHash = receipt.TxHash.Hex()
	}
	_ = wf.advance(StageSettled, wf.PrimaryTx)
	return finish(SuccessOutcome(requestID, kind, summary(txHash), txHash))
}

type requestIDKey struct{}

// ContextWithRequestID 让调用方指定本次调用的请求 ID。
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context, fallback func() string) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return fallback()
}
