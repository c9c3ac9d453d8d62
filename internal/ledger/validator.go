package ledger

import (
	"fmt"

	"bookkeeper/internal/model"
)

// ============================================================================
// 会计恒等式校验器
// ============================================================================
//
// 【会计恒等式】
//
//   资产 = 负债 + 权益 + 收入 - 费用
//
// 这是整个账本的全局一致性不变式。任何一笔平衡的分录
// （借方合计 == 贷方合计）都不会破坏它，所以它既是过账前的
// 预演检查，也是账本的常驻体检。
//
// 【注意】收入和费用是"临时账户"，理论上应定期结转到权益，
// 但本系统不做期末结转，恒等式里永久包含收入与费用两项。
//
// ============================================================================

// EquationEpsilon 恒等式允许的误差（1 分），吸收上游金额换算的舍入
const EquationEpsilon = 1

// 校验失败的违规代码
const (
	ViolationUnbalancedLines  = "UNBALANCED_LINES"  // 借贷不平
	ViolationNegativeBalance  = "NEGATIVE_BALANCE"  // 余额将变负
	ViolationEquationBroken   = "EQUATION_BROKEN"   // 预演后恒等式不成立
	ViolationUnknownAccount   = "UNKNOWN_ACCOUNT"   // 行引用的账户不存在
	ViolationInvalidLine      = "INVALID_LINE"      // 行本身非法（方向/金额）
	ViolationInsufficientRows = "INSUFFICIENT_ROWS" // 行数不足两行
)

// ProposedLine 待过账的一行
type ProposedLine struct {
	AccountID   int64  `json:"account_id"`
	Side        string `json:"side"`
	AmountCents int64  `json:"amount_cents"`
}

// Violation 一条校验违规，结构化返回给调用方展示，绝不作为异常抛出
//
// 预检失败是预期内、可恢复的业务结果，不是程序错误
type Violation struct {
	Code           string `json:"code"`
	AccountID      int64  `json:"account_id,omitempty"`
	Category       string `json:"category,omitempty"`
	CurrentCents   int64  `json:"current_cents,omitempty"`
	ProjectedCents int64  `json:"projected_cents,omitempty"`
	Message        string `json:"message"`
}

// EquationResult 恒等式检查结果
type EquationResult struct {
	CompanyID        int64 `json:"company_id"`
	Balanced         bool  `json:"balanced"`
	AssetsCents      int64 `json:"assets_cents"`
	LiabilitiesCents int64 `json:"liabilities_cents"`
	EquityCents      int64 `json:"equity_cents"`
	RevenueCents     int64 `json:"revenue_cents"`
	ExpensesCents    int64 `json:"expenses_cents"`
	DifferenceCents  int64 `json:"difference_cents"`
}

// ValidationResult 预过账校验结果
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// categoryTotals 各类别余额合计
type categoryTotals struct {
	assets, liabilities, equity, revenue, expenses int64
}

func (t categoryTotals) difference() int64 {
	// 资产 - (负债 + 权益 + 收入 - 费用)
	return t.assets - (t.liabilities + t.equity + t.revenue - t.expenses)
}

func (t categoryTotals) balanced() bool {
	d := t.difference()
	if d < 0 {
		d = -d
	}
	return d <= EquationEpsilon
}

// sumByCategory 按类别汇总当前余额
//
// 【关键点】系统/外部账户不参与恒等式求和
func sumByCategory(balances []*model.Account) categoryTotals {
	var totals categoryTotals
	for _, a := range balances {
		if a.IsSystem {
			continue
		}
		addToCategory(&totals, a.Category, a.CurrentBalanceCents)
	}
	return totals
}

func addToCategory(totals *categoryTotals, category string, cents int64) {
	switch category {
	case model.CategoryAsset:
		totals.assets += cents
	case model.CategoryLiability:
		totals.liabilities += cents
	case model.CategoryEquity:
		totals.equity += cents
	case model.CategoryRevenue:
		totals.revenue += cents
	case model.CategoryExpense:
		totals.expenses += cents
	}
}

// ValidateEquation 检查公司全量账户余额是否满足会计恒等式
//
// 【注意】需要公司所有账户的一致性快照：调用方若允许并发过账，
// 必须在快照读（可重复读事务或覆盖全公司账户的读锁）下取余额，
// 否则可能看到改了一半的账本而误报不平
func ValidateEquation(companyID int64, balances []*model.Account) EquationResult {
	totals := sumByCategory(balances)
	return EquationResult{
		CompanyID:        companyID,
		Balanced:         totals.balanced(),
		AssetsCents:      totals.assets,
		LiabilitiesCents: totals.liabilities,
		EquityCents:      totals.equity,
		RevenueCents:     totals.revenue,
		ExpensesCents:    totals.expenses,
		DifferenceCents:  totals.difference(),
	}
}

// ValidateProposedTransaction 过账前的三段式预检，是阻止任何分录落账的唯一闸门
//
// 1. 借方合计 == 贷方合计
// 2. 逐行预演余额变更，非权益账户不允许变负（系统账户豁免）
// 3. 按类别汇总增量，预演后的恒等式必须依然成立
//
// 创建、过账、作废走的是同一个闸门，没有旁路
func ValidateProposedTransaction(companyID int64, balances map[int64]*model.Account, lines []ProposedLine) ValidationResult {
	var violations []Violation

	if len(lines) < 2 {
		violations = append(violations, Violation{
			Code:    ViolationInsufficientRows,
			Message: fmt.Sprintf("分录至少需要两行，实际 %d 行", len(lines)),
		})
		return ValidationResult{Valid: false, Violations: violations}
	}

	// 第一段：借贷必平
	var totalDebits, totalCredits int64
	for _, line := range lines {
		if !model.ValidSide(line.Side) || line.AmountCents <= 0 {
			violations = append(violations, Violation{
				Code:      ViolationInvalidLine,
				AccountID: line.AccountID,
				Message:   fmt.Sprintf("非法分录行: side=%s amount=%d", line.Side, line.AmountCents),
			})
			continue
		}
		if line.Side == model.SideDebit {
			totalDebits += line.AmountCents
		} else {
			totalCredits += line.AmountCents
		}
	}
	if len(violations) > 0 {
		return ValidationResult{Valid: false, Violations: violations}
	}
	if totalDebits != totalCredits {
		violations = append(violations, Violation{
			Code:    ViolationUnbalancedLines,
			Message: fmt.Sprintf("借方合计 %d != 贷方合计 %d", totalDebits, totalCredits),
		})
	}

	// 第二段：逐行预演，非权益账户不允许变负
	// 同一账户可能出现在多行，用 projected 累计逐行推进
	projected := make(map[int64]int64, len(lines))
	for _, line := range lines {
		account, ok := balances[line.AccountID]
		if !ok {
			violations = append(violations, Violation{
				Code:      ViolationUnknownAccount,
				AccountID: line.AccountID,
				Message:   fmt.Sprintf("账户 %d 不存在", line.AccountID),
			})
			continue
		}

		previous, seen := projected[line.AccountID]
		if !seen {
			previous = account.CurrentBalanceCents
		}

		change, err := model.ComputeBalanceChange(account.NormalSide, line.Side, previous, line.AmountCents, line.AccountID, "")
		if err != nil {
			violations = append(violations, Violation{
				Code:      ViolationInvalidLine,
				AccountID: line.AccountID,
				Message:   err.Error(),
			})
			continue
		}
		projected[line.AccountID] = change.NewBalanceCents

		if change.NewBalanceCents < 0 && !account.CanHaveNegativeBalance() {
			violations = append(violations, Violation{
				Code:           ViolationNegativeBalance,
				AccountID:      line.AccountID,
				Category:       account.Category,
				CurrentCents:   account.CurrentBalanceCents,
				ProjectedCents: change.NewBalanceCents,
				Message:        fmt.Sprintf("账户 %d（%s）余额将由 %d 变为 %d", line.AccountID, account.Category, account.CurrentBalanceCents, change.NewBalanceCents),
			})
		}
	}
	if len(violations) > 0 {
		return ValidationResult{Valid: false, Violations: violations}
	}

	// 第三段：预演后的恒等式
	// 在现有类别合计上叠加各账户净增量（系统账户与恒等式求和口径一致，排除）
	totals := toTotalsSlice(balances)
	for accountID, newBalance := range projected {
		account := balances[accountID]
		if account.IsSystem {
			continue
		}
		addToCategory(&totals, account.Category, newBalance-account.CurrentBalanceCents)
	}
	if !totals.balanced() {
		violations = append(violations, Violation{
			Code:    ViolationEquationBroken,
			Message: fmt.Sprintf("预演后恒等式不成立，差额 %d 分", totals.difference()),
		})
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

func toTotalsSlice(balances map[int64]*model.Account) categoryTotals {
	list := make([]*model.Account, 0, len(balances))
	for _, a := range balances {
		list = append(list, a)
	}
	return sumByCategory(list)
}
