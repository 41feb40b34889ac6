package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/internal/storage/mysql"
)

// 资源 URI
const (
	PoolResourceURI    = "liquidity://pool"
	HistoryResourceURI = "history://outcomes"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         PoolResourceURI,
		Name:        "liquidityState",
		Description: "流动性池当前的 Token 储备与 ETH 余额",
		MIMEType:    "text/plain",
	}, s.readPool)

	if s.deps.History != nil {
		s.mcp.AddResource(&mcp.Resource{
			URI:         HistoryResourceURI,
			Name:        "recentOutcomes",
			Description: "最近的工作流执行结果",
			MIMEType:    "application/json",
		}, s.readHistory)
	}
}

func (s *Server) readPool(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	ctx = exchange.ContextWithRequestID(ctx, s.newID())
	outcome := s.deps.Exchange.LiquidityState(ctx)
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      PoolResourceURI,
			MIMEType: "text/plain",
			Text:     exchange.Format(outcome),
		}},
	}, nil
}

type historyPayload struct {
	Outcomes []mysql.OutcomeRecord `json:"outcomes"`
}

func (s *Server) readHistory(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	records, err := s.deps.History.ListLatest(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("读取历史记录失败: %w", err)
	}
	if records == nil {
		records = []mysql.OutcomeRecord{}
	}
	data, err := json.MarshalIndent(historyPayload{Outcomes: records}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化历史记录失败: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      HistoryResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
