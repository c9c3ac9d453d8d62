package model

import (
	"errors"
	"fmt"
)

// ============================================================================
// 余额变更计算
// ============================================================================
//
// 【借贷记账的唯一算术规则】
//
//   记账方向 == 正常余额方向  ->  余额增加（+amount）
//   记账方向 != 正常余额方向  ->  余额减少（-amount）
//
// 例如：
//   资产账户（借方为正常方向）记借方 500 -> +500
//   资产账户记贷方 300                   -> -300
//   负债账户（贷方为正常方向）记贷方 500 -> +500
//
// 【重要】这是全系统唯一允许改变余额符号的地方。
// 冲正（红冲）就是用相反的记账方向再算一次，得到原变更的精确取反，
// 绝不允许任何调用方自己手写正负号逻辑
//
// ============================================================================

var ErrNegativeAmount = errors.New("金额必须是非负整数（分）")

// BalanceChange 一笔余额变更的计算结果，临时值对象，不单独持久化
type BalanceChange struct {
	AccountID            int64
	EntryNo              string // 关联的分录号，可为空
	Side                 string // 本行的记账方向
	AmountCents          int64  // 金额（正整数，单位：分）
	PreviousBalanceCents int64  // 计算时的账户余额
	ChangeCents          int64  // 带符号的增量
	NewBalanceCents      int64  // 应用后的余额
	IsReversal           bool   // 是否冲正变更
}

// ComputeBalanceChange 纯函数：根据正常余额方向、记账方向和金额计算余额变更
//
// 金额一律使用整数分，绝不使用二进制浮点数做货币运算
func ComputeBalanceChange(normalSide, lineSide string, previousCents, amountCents int64, accountID int64, entryNo string) (BalanceChange, error) {
	if !ValidSide(normalSide) || !ValidSide(lineSide) {
		return BalanceChange{}, fmt.Errorf("%w: normal=%s line=%s", ErrInvalidSide, normalSide, lineSide)
	}
	if amountCents < 0 {
		return BalanceChange{}, fmt.Errorf("%w: %d", ErrNegativeAmount, amountCents)
	}

	change := amountCents
	if lineSide != normalSide {
		change = -amountCents
	}

	return BalanceChange{
		AccountID:            accountID,
		EntryNo:              entryNo,
		Side:                 lineSide,
		AmountCents:          amountCents,
		PreviousBalanceCents: previousCents,
		ChangeCents:          change,
		NewBalanceCents:      previousCents + change,
	}, nil
}

// ComputeReversal 计算一笔已应用变更的冲正变更
//
// 同一金额、相反方向，增量正好是原变更的取反，保证"记账+冲正"对余额净零
func ComputeReversal(normalSide string, original BalanceChange, previousCents int64, entryNo string) (BalanceChange, error) {
	reversal, err := ComputeBalanceChange(normalSide, OppositeSide(original.Side), previousCents, original.AmountCents, original.AccountID, entryNo)
	if err != nil {
		return BalanceChange{}, err
	}
	reversal.IsReversal = true
	return reversal, nil
}

// OppositeSide 借贷方向取反
func OppositeSide(side string) string {
	if side == SideDebit {
		return SideCredit
	}
	return SideDebit
}
