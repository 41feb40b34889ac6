package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

// Token 是 ERC20 资产合约的最小访问面。
type Token interface {
	Address() common.Address
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error)
}

// Pool 是流动性池合约的最小访问面。写操作返回尚未确认的交易。
type Pool interface {
	Address() common.Address
	AddLiquidity(ctx context.Context, tokenAmount, value *big.Int) (*types.Transaction, error)
	TokenToEthSwap(ctx context.Context, tokensIn, minBaseOut *big.Int) (*types.Transaction, error)
	Reserve(ctx context.Context) (*big.Int, error)
}

// Chain 提供余额查询与交易确认等待。
//
// WaitConfirmed 仅在回执状态为成功时返回 nil 错误；回滚的交易以
// LEDGER_REJECTED 返回，节点不可达或等待超时以 CONNECTIVITY_FAILURE / TIMEOUT 返回。
type Chain interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Ledger 是启动时一次性建立的链上上下文，显式注入到每个工作流入口。
type Ledger struct {
	Signer        common.Address
	Token         Token
	Pool          Pool
	Chain         Chain
	TokenDecimals int
	BaseDecimals  int
}

// Validate 确认所有依赖均已绑定。
func (l *Ledger) Validate() error {
	switch {
	case l == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未初始化链上上下文")
	case l.Signer == (common.Address{}):
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置签名者地址")
	case l.Token == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未绑定 Token 合约")
	case l.Pool == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未绑定流动性池合约")
	case l.Chain == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	case l.TokenDecimals < 0 || l.BaseDecimals < 0:
		return xerrors.New(xerrors.CodeInitializationFailure, "资产精度不能为负数")
	}
	return nil
}

// keepCode 为错误补充上下文，同时保留原有错误码。
func keepCode(err error, message string) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeOf(err), err, message)
}
