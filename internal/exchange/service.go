package exchange

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/pkg/logger"
)

// Observer 在每次调用得到最终结果后被通知，用于指标、历史记录、事件与告警。
// Observer 不能改变返回给调用方的结果。
type Observer interface {
	Observe(ctx context.Context, outcome Outcome)
}

// ObserverFunc 将普通函数适配为 Observer。
type ObserverFunc func(ctx context.Context, outcome Outcome)

// Observe 实现 Observer。
func (f ObserverFunc) Observe(ctx context.Context, outcome Outcome) { f(ctx, outcome) }

// Service 是面向调用方的入口：解析十进制字符串、执行工作流并通知观察者。
// 所有方法都只返回 Outcome，不会向外抛出错误。
type Service struct {
	ledger    *Ledger
	sequencer *Sequencer
	reader    *ReserveReader
	observers []Observer
	newID     func() string
	logger    *slog.Logger
}

// NewService 基于链上上下文创建服务。
func NewService(ledger *Ledger, opts ...Option) (*Service, error) {
	sequencer, err := NewSequencer(ledger, opts...)
	if err != nil {
		return nil, err
	}
	reader, err := NewReserveReader(ledger, opts...)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Service{
		ledger:    ledger,
		sequencer: sequencer,
		reader:    reader,
		observers: o.observers,
		newID:     o.newID,
		logger:    logger.Named("exchange"),
	}, nil
}

// Signer 返回执行所有写操作的签名者地址。
func (s *Service) Signer() common.Address { return s.ledger.Signer }

// PoolAddress 返回流动性池地址。
func (s *Service) PoolAddress() common.Address { return s.ledger.Pool.Address() }

// AddLiquidity 向池子存入 amountOfToken 个 Token 与 ethAmount 个 ETH。
func (s *Service) AddLiquidity(ctx context.Context, amountOfToken, ethAmount string) Outcome {
	ctx, requestID := s.withRequestID(ctx)
	tokenAmount, err := parseField("amountOfToken", amountOfToken, s.ledger.TokenDecimals)
	if err != nil {
		return s.observe(ctx, FailureOutcome(requestID, KindAddLiquidity, err))
	}
	baseAmount, err := parseField("ethAmount", ethAmount, s.ledger.BaseDecimals)
	if err != nil {
		return s.observe(ctx, FailureOutcome(requestID, KindAddLiquidity, err))
	}
	return s.observe(ctx, s.sequencer.AddLiquidity(ctx, tokenAmount, baseAmount))
}

// TokenToEthSwap 卖出 tokensToSwap 个 Token，要求至少换回 minEthToReceive 个 ETH。
func (s *Service) TokenToEthSwap(ctx context.Context, tokensToSwap, minEthToReceive string) Outcome {
	ctx, requestID := s.withRequestID(ctx)
	tokensIn, err := parseField("tokensToSwap", tokensToSwap, s.ledger.TokenDecimals)
	if err != nil {
		return s.observe(ctx, FailureOutcome(requestID, KindTokenToEthSwap, err))
	}
	minBaseOut, err := parseField("minEthToReceive", minEthToReceive, s.ledger.BaseDecimals)
	if err != nil {
		return s.observe(ctx, FailureOutcome(requestID, KindTokenToEthSwap, err))
	}
	return s.observe(ctx, s.sequencer.TokenToEthSwap(ctx, tokensIn, minBaseOut))
}

// LiquidityState 读取池子状态，结果的 Pool 字段携带快照。
func (s *Service) LiquidityState(ctx context.Context) Outcome {
	ctx, requestID := s.withRequestID(ctx)
	state, err := s.reader.ReadPoolState(ctx)
	if err != nil {
		return s.observe(ctx, FailureOutcome(requestID, KindLiquidityState, err))
	}
	outcome := SuccessOutcome(requestID, KindLiquidityState, FormatPoolState(state), "")
	outcome.Pool = &state
	return s.observe(ctx, outcome)
}

func (s *Service) withRequestID(ctx context.Context) (context.Context, string) {
	id := requestIDFrom(ctx, s.newID)
	return ContextWithRequestID(ctx, id), id
}

func (s *Service) observe(ctx context.Context, outcome Outcome) Outcome {
	if !outcome.Success && outcome.Workflow == nil {
		s.logger.Info("请求被拒绝",
			slog.String("request_id", outcome.RequestID),
			slog.String("workflow", string(outcome.Kind)),
			slog.String("error_code", string(outcome.Code)),
			slog.String("reason", outcome.Reason),
		)
	}
	for _, obs := range s.observers {
		obs.Observe(ctx, outcome)
	}
	return outcome
}

func parseField(field, text string, decimals int) (Amount, error) {
	amount, err := ParseAmount(text, decimals)
	if err == nil {
		return amount, nil
	}
	reason := err.Error()
	if e, ok := xerrors.From(err); ok {
		reason = e.Message()
	}
	return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("参数 %s 无效: %s", field, reason),
		xerrors.WithMetadata("field", field))
}
