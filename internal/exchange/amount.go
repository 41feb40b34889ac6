package exchange

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

// DefaultDecimals 是 Token 与 ETH 的默认精度。
const DefaultDecimals = 18

var (
	decimalPattern = regexp.MustCompile(`^([0-9]+\.?[0-9]*|\.[0-9]+)$`)
	maxUint256     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Amount 是按资产最小单位表示的非负整数，同时保留调用方输入的十进制文本用于展示。
type Amount struct {
	text     string
	value    *big.Int
	decimals int
}

// ParseAmount 将十进制字符串按 decimals 位精度换算为最小单位。
// 超出精度的非零小数位、负数、科学计数法以及超过 uint256 的数值都会被拒绝。
func ParseAmount(text string, decimals int) (Amount, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Amount{}, xerrors.New(xerrors.CodeParse, "数量不能为空")
	}
	if decimals < 0 {
		return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("无效的精度 %d", decimals))
	}
	if !decimalPattern.MatchString(raw) {
		return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("无效的十进制数量 %q", text))
	}
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		fraction := strings.TrimRight(raw[dot+1:], "0")
		if len(fraction) > decimals {
			return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("数量 %q 的小数位超过 %d 位", text, decimals))
		}
	}

	normalized := strings.TrimSuffix(raw, ".")
	if strings.HasPrefix(normalized, ".") {
		normalized = "0" + normalized
	}
	parsed, err := decimal.NewFromString(normalized)
	if err != nil {
		return Amount{}, xerrors.Wrap(xerrors.CodeParse, err, fmt.Sprintf("无效的十进制数量 %q", text))
	}
	scaled := parsed.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("数量 %q 无法按 %d 位精度精确表示", text, decimals))
	}
	value := scaled.BigInt()
	if value.Sign() < 0 || value.Cmp(maxUint256) > 0 {
		return Amount{}, xerrors.New(xerrors.CodeParse, fmt.Sprintf("数量 %q 超出 uint256 范围", text))
	}
	return Amount{text: raw, value: value, decimals: decimals}, nil
}

// NewAmount 由最小单位数值构造 Amount，展示文本取自 FormatUnits。
func NewAmount(value *big.Int, decimals int) Amount {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Amount{text: FormatUnits(v, decimals), value: v, decimals: decimals}
}

// FormatUnits 将最小单位数值换算回十进制展示文本，例如 1500000000000000000 → "1.5"。
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// Text 返回调用方输入的十进制文本。
func (a Amount) Text() string {
	if a.text == "" {
		return "0"
	}
	return a.text
}

// Int 返回最小单位数值的副本。
func (a Amount) Int() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// Decimals 返回换算所用的精度。
func (a Amount) Decimals() int { return a.decimals }

// IsZero 判断数量是否为 0。
func (a Amount) IsZero() bool { return a.value == nil || a.value.Sign() == 0 }

// CoveredBy 判断 limit 是否不小于当前数量。
func (a Amount) CoveredBy(limit *big.Int) bool {
	if limit == nil {
		return a.IsZero()
	}
	return limit.Cmp(a.Int()) >= 0
}

func (a Amount) String() string { return a.Text() }
