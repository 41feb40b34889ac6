package mcpserver

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ExchangeMCP-Chain/internal/exchange"
)

// AddLiquidityInput 是 addLiquidity 工具的参数。
type AddLiquidityInput struct {
	AmountOfToken string `json:"amountOfToken" jsonschema:"要存入的 Token 数量，十进制字符串，例如 10 或 1.5"`
	EthAmount     string `json:"ethAmount" jsonschema:"随交易附带的 ETH 数量，十进制字符串"`
}

// TokenToEthSwapInput 是 tokenToEthSwap 工具的参数。
type TokenToEthSwapInput struct {
	TokensToSwap    string `json:"tokensToSwap" jsonschema:"卖出的 Token 数量，十进制字符串"`
	MinEthToReceive string `json:"minEthToReceive" jsonschema:"可接受的最少 ETH 数量，低于该值时链上拒绝"`
}

// LiquidityStateInput 是 liquidityState 工具的参数，没有字段。
type LiquidityStateInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "addLiquidity",
		Description: "向流动性池添加 Token 与 ETH。授权额度不足时先提交 approve 交易。",
	}, s.addLiquidity)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tokenToEthSwap",
		Description: "用 Token 兑换 ETH，低于最少接收数量时交易被拒绝。",
	}, s.tokenToEthSwap)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "liquidityState",
		Description: "读取池子当前的 Token 储备与 ETH 余额。",
	}, s.liquidityState)
}

func (s *Server) addLiquidity(ctx context.Context, _ *mcp.CallToolRequest, in AddLiquidityInput) (*mcp.CallToolResult, any, error) {
	outcome := s.serialized(ctx, exchange.KindAddLiquidity, func(ctx context.Context) exchange.Outcome {
		return s.deps.Exchange.AddLiquidity(ctx, in.AmountOfToken, in.EthAmount)
	})
	return textResult(outcome), nil, nil
}

func (s *Server) tokenToEthSwap(ctx context.Context, _ *mcp.CallToolRequest, in TokenToEthSwapInput) (*mcp.CallToolResult, any, error) {
	outcome := s.serialized(ctx, exchange.KindTokenToEthSwap, func(ctx context.Context) exchange.Outcome {
		return s.deps.Exchange.TokenToEthSwap(ctx, in.TokensToSwap, in.MinEthToReceive)
	})
	return textResult(outcome), nil, nil
}

func (s *Server) liquidityState(ctx context.Context, _ *mcp.CallToolRequest, _ LiquidityStateInput) (*mcp.CallToolResult, any, error) {
	ctx = exchange.ContextWithRequestID(ctx, s.newID())
	return textResult(s.deps.Exchange.LiquidityState(ctx)), nil, nil
}

// serialized 在持有签名者锁期间执行写操作。等锁失败直接返回失败结果，不触达链。
func (s *Server) serialized(ctx context.Context, kind exchange.Kind, run func(context.Context) exchange.Outcome) exchange.Outcome {
	requestID := s.newID()
	ctx = exchange.ContextWithRequestID(ctx, requestID)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	release, err := s.deps.Lock.Acquire(waitCtx, s.signer)
	if err != nil {
		s.logger.Warn("获取签名者锁失败",
			slog.String("request_id", requestID),
			slog.String("workflow", string(kind)),
			slog.Any("error", err),
		)
		return exchange.FailureOutcome(requestID, kind, err)
	}
	defer release()
	return run(ctx)
}

func textResult(outcome exchange.Outcome) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: exchange.Format(outcome)}},
		IsError: !outcome.Success,
	}
}

func newRequestID() string { return uuid.NewString() }
