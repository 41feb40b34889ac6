package exchange

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/pkg/logger"
)

// recheckTimeout 限制确认结果未知时重新读取授权额度的时长。
const recheckTimeout = 10 * time.Second

// Approval 描述一次授权检查的结果。
type Approval struct {
	// Current 是检查时读取到的授权额度。
	Current *big.Int
	// Submitted 表示是否提交了新的授权交易。
	Submitted bool
	Tx        common.Hash
	Receipt   *types.Receipt
	// Rechecked 表示确认等待失败后，通过重新读取额度确认授权已生效。
	Rechecked bool
}

// AllowanceGuard 在主交易之前确保授权额度足够。
type AllowanceGuard struct {
	token  Token
	chain  Chain
	logger *slog.Logger
}

// NewAllowanceGuard 创建授权守卫。
func NewAllowanceGuard(token Token, chain Chain) *AllowanceGuard {
	return &AllowanceGuard{token: token, chain: chain, logger: logger.Named("allowance")}
}

// Ensure 读取 (owner, spender) 的当前授权额度。额度足够时不提交任何交易；
// 否则提交恰好为 required 的授权并等待确认后才返回。
//
// 若授权已提交但等待确认因网络或超时失败，授权结果未知：此时重新读取一次额度，
// 额度已足够则视为授权成功，否则返回 AUTHORIZATION_FAILED。
func (g *AllowanceGuard) Ensure(ctx context.Context, owner, spender common.Address, required Amount) (Approval, error) {
	current, err := g.token.Allowance(ctx, owner, spender)
	if err != nil {
		return Approval{}, keepCode(err, "查询授权额度失败")
	}
	if current == nil {
		current = new(big.Int)
	}
	approval := Approval{Current: new(big.Int).Set(current)}
	if required.CoveredBy(current) {
		g.logger.Debug("授权额度充足",
			slog.String("owner", owner.Hex()),
			slog.String("allowance", current.String()),
			slog.String("required", required.Int().String()),
		)
		return approval, nil
	}

	tx, err := g.token.Approve(ctx, spender, required.Int())
	if err != nil {
		return approval, xerrors.Wrap(xerrors.CodeAuthorization, err, "提交授权交易失败")
	}
	if tx == nil {
		return approval, xerrors.New(xerrors.CodeAuthorization, "授权交易未返回交易句柄")
	}
	approval.Submitted = true
	approval.Tx = tx.Hash()
	g.logger.Info("已提交授权交易",
		slog.String("tx_hash", approval.Tx.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", required.Int().String()),
	)

	receipt, err := g.chain.WaitConfirmed(ctx, tx)
	if err == nil {
		approval.Receipt = receipt
		return approval, nil
	}

	if outcomeUnknown(err) {
		if g.recheck(ctx, owner, spender, required) {
			approval.Rechecked = true
			g.logger.Warn("授权确认等待失败，但额度已生效",
				slog.String("tx_hash", approval.Tx.Hex()),
				slog.Any("error", err),
			)
			return approval, nil
		}
	}
	return approval, xerrors.Wrap(xerrors.CodeAuthorization, err, "等待授权确认失败",
		xerrors.WithMetadata("approval_tx", approval.Tx.Hex()))
}

func (g *AllowanceGuard) recheck(ctx context.Context, owner, spender common.Address, required Amount) bool {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recheckTimeout)
	defer cancel()
	current, err := g.token.Allowance(checkCtx, owner, spender)
	if err != nil {
		g.logger.Warn("重新读取授权额度失败", slog.Any("error", err))
		return false
	}
	return required.CoveredBy(current)
}

// outcomeUnknown 区分“授权确定失败”与“授权结果未知”。
func outcomeUnknown(err error) bool {
	return xerrors.HasCode(err, xerrors.CodeConnectivity) ||
		xerrors.HasCode(err, xerrors.CodeTimeout) ||
		stdErrors.Is(err, context.DeadlineExceeded)
}
