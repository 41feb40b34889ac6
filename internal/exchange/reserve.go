package exchange

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ExchangeMCP-Chain/pkg/logger"
)

// PoolState 是某一时刻读取到的池子储备快照，不做缓存。
type PoolState struct {
	Pool          common.Address `json:"pool"`
	TokenReserve  *big.Int       `json:"token_reserve"`
	BaseBalance   *big.Int       `json:"base_balance"`
	TokenDecimals int            `json:"token_decimals"`
	BaseDecimals  int            `json:"base_decimals"`
	ReadAt        time.Time      `json:"read_at"`
}

// TokenText 返回按展示单位格式化后的 Token 储备。
func (p PoolState) TokenText() string { return FormatUnits(p.TokenReserve, p.TokenDecimals) }

// BaseText 返回按展示单位格式化后的 ETH 余额。
func (p PoolState) BaseText() string { return FormatUnits(p.BaseBalance, p.BaseDecimals) }

// ReserveReader 负责只读的池子状态查询，不签名、不重试。
type ReserveReader struct {
	ledger *Ledger
	logger *slog.Logger
	now    func() time.Time
}

// NewReserveReader 创建储备读取器。
func NewReserveReader(ledger *Ledger, opts ...Option) (*ReserveReader, error) {
	if err := ledger.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &ReserveReader{ledger: ledger, logger: logger.Named("reserve"), now: o.now}, nil
}

// ReadPoolState 读取池子的 Token 储备与原生 ETH 余额。
func (r *ReserveReader) ReadPoolState(ctx context.Context) (PoolState, error) {
	pool := r.ledger.Pool.Address()
	reserve, err := r.ledger.Pool.Reserve(ctx)
	if err != nil {
		r.logger.Warn("读取 Token 储备失败", slog.String("pool", pool.Hex()), slog.Any("error", err))
		return PoolState{}, keepCode(err, "读取 Token 储备失败")
	}
	balance, err := r.ledger.Chain.BalanceAt(ctx, pool)
	if err != nil {
		r.logger.Warn("读取 ETH 余额失败", slog.String("pool", pool.Hex()), slog.Any("error", err))
		return PoolState{}, keepCode(err, "读取 ETH 余额失败")
	}
	if reserve == nil {
		reserve = new(big.Int)
	}
	if balance == nil {
		balance = new(big.Int)
	}
	return PoolState{
		Pool:          pool,
		TokenReserve:  reserve,
		BaseBalance:   balance,
		TokenDecimals: r.ledger.TokenDecimals,
		BaseDecimals:  r.ledger.BaseDecimals,
		ReadAt:        r.now(),
	}, nil
}
