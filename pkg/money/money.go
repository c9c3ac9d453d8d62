package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 金额换算
// ============================================================================
//
// 【为什么不用 float64？】
//
// 0.1 + 0.2 != 0.3 —— 二进制浮点数表示不了大多数十进制小数，
// 货币运算一旦引入浮点误差，对账永远差几分钱。
//
// 核心账务全部使用整数分（int64）。本包只负责系统边界上的换算：
// 请求里的 "125.00" 用十进制库精确转成 12500 分，展示时再转回去。
//
// ============================================================================

var (
	ErrInvalidAmount   = errors.New("金额格式非法")
	ErrTooManyDecimals = errors.New("金额最多两位小数")
)

var centsFactor = decimal.NewFromInt(100)

// ParseCents 把十进制金额字符串（如 "125.00"）精确换算成分
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	cents := d.Mul(centsFactor)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrTooManyDecimals, s)
	}
	return cents.IntPart(), nil
}

// FormatCents 把分转回两位小数的十进制字符串
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsFactor).StringFixed(2)
}
