package exchange

import (
	"fmt"
	"strings"
)

// unknownReason 在失败原因为空时替代展示。
const unknownReason = "未知错误"

var failurePrefix = map[Kind]string{
	KindAddLiquidity:   "添加流动性失败",
	KindTokenToEthSwap: "Token 换 ETH 失败",
	KindLiquidityState: "获取流动性信息失败",
}

// Format 将结果转换为返回给调用方的文本。
func Format(o Outcome) string {
	if o.Success {
		if o.Kind == KindLiquidityState && o.Pool != nil {
			return FormatPoolState(*o.Pool)
		}
		return o.Summary
	}
	reason := strings.TrimSpace(o.Reason)
	if reason == "" {
		reason = unknownReason
	}
	prefix, ok := failurePrefix[o.Kind]
	if !ok {
		prefix = "操作失败"
	}
	return fmt.Sprintf("%s: %s", prefix, reason)
}

// FormatPoolState 输出池子两侧余额的展示文本。
func FormatPoolState(state PoolState) string {
	return fmt.Sprintf("当前池子状态:\nToken 余额: %s\nETH 余额: %s", state.TokenText(), state.BaseText())
}
