package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies 没有辅币单位，金额直接以主币单位传给支付网关
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true,
	"jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MaxTotalAmount 与 orders.total_amount 的 DECIMAL(12,2) 列上限一致
const MaxTotalAmount = 9_999_999_999.99

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// MinorUnits 把金额换算成币种的最小单位，四舍五入（0.5 向上）。
// 例如 99.99 usd -> 9999，1500 jpy -> 1500。超出 int64 或为负数时返回 ValidationError。
func MinorUnits(amount float64, currency string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, &ValidationError{Field: "totalAmount", Reason: "must be a finite, non-negative number"}
	}
	exp := int32(2)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		exp = 0
	}
	d := decimal.NewFromFloat(amount).Shift(exp).Round(0)
	if d.GreaterThan(maxMinorUnits) {
		return 0, &ValidationError{Field: "totalAmount", Reason: "exceeds the payable range"}
	}
	return d.IntPart(), nil
}
