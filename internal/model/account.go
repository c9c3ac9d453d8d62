package model

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// 账户类别与借贷方向
// ============================================================================

const (
	CategoryAsset     = "ASSET"     // 资产
	CategoryLiability = "LIABILITY" // 负债
	CategoryEquity    = "EQUITY"    // 所有者权益
	CategoryRevenue   = "REVENUE"   // 收入
	CategoryExpense   = "EXPENSE"   // 费用
)

const (
	SideDebit  = "DEBIT"  // 借方
	SideCredit = "CREDIT" // 贷方
)

var (
	ErrInvalidCategory     = errors.New("未知的账户类别")
	ErrInvalidSide         = errors.New("借贷方向必须是 DEBIT 或 CREDIT")
	ErrInvalidAccountState = errors.New("账户状态非法")
	ErrConcurrencyConflict = errors.New("余额并发冲突，请重新读取后重试")
)

// NormalSideFor 返回账户类别的正常余额方向
//
// 资产、费用在借方增加；负债、权益、收入在贷方增加
func NormalSideFor(category string) (string, error) {
	switch category {
	case CategoryAsset, CategoryExpense:
		return SideDebit, nil
	case CategoryLiability, CategoryEquity, CategoryRevenue:
		return SideCredit, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}
}

// ValidSide 校验借贷方向取值
func ValidSide(side string) bool {
	return side == SideDebit || side == SideCredit
}

// ============================================================================
// 账户余额聚合
// ============================================================================

// Account 账户余额表，每个科目一行，是余额完整性的核心数据
//
// 【重要】余额不变式：
// 1. current = opening + Σ(已应用的余额变更) —— 除 ApplyChange 外没有任何
//    修改 current 的入口，靠构造保证
// 2. 资产/负债/收入/费用账户余额不允许为负；权益类账户允许为负
//    （对应所有者超额提取的场景），系统/外部账户也允许为负
//    （它们吸收进出账本的资金流，口径与恒等式排除一致）
// 3. version 是乐观锁版本号，持久层按版本条件更新，判定写入是否基于过期读
type Account struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID           int64      `gorm:"uniqueIndex:uk_company_code;not null" json:"company_id"` // 公司（租户）ID
	Code                string     `gorm:"type:varchar(32);uniqueIndex:uk_company_code;not null" json:"code"`
	Name                string     `gorm:"type:varchar(128);not null" json:"name"`
	Category            string     `gorm:"type:varchar(16);not null" json:"category"`   // 账户类别
	NormalSide          string     `gorm:"type:varchar(8);not null" json:"normal_side"` // 正常余额方向
	Currency            string     `gorm:"type:varchar(8);not null" json:"currency"`    // 币种（每个公司单一币种）
	IsSystem            bool       `gorm:"not null;default:false" json:"is_system"`     // 系统/外部账户，不参与会计恒等式
	Active              bool       `gorm:"not null;default:true" json:"active"`         // 停用是外部标记，不是账务操作
	OpeningBalanceCents int64      `gorm:"not null;default:0" json:"opening_balance_cents"`
	CurrentBalanceCents int64      `gorm:"not null;default:0" json:"current_balance_cents"`
	TotalDebitsCents    int64      `gorm:"not null;default:0" json:"total_debits_cents"`
	TotalCreditsCents   int64      `gorm:"not null;default:0" json:"total_credits_cents"`
	TransactionCount    int64      `gorm:"not null;default:0" json:"transaction_count"`
	LastTransactionAt   *time.Time `json:"last_transaction_at"`
	Version             int        `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	events []BalanceChangedEvent `gorm:"-"`
}

func (Account) TableName() string {
	return "account"
}

// NewAccount 开户时构造账户聚合，current = opening，计数器清零
//
// 禁止负余额的类别如果期初余额为负，直接拒绝
func NewAccount(companyID int64, code, name, category, currency string, openingCents int64) (*Account, error) {
	normalSide, err := NormalSideFor(category)
	if err != nil {
		return nil, err
	}

	a := &Account{
		CompanyID:           companyID,
		Code:                code,
		Name:                name,
		Category:            category,
		NormalSide:          normalSide,
		Currency:            currency,
		Active:              true,
		OpeningBalanceCents: openingCents,
		CurrentBalanceCents: openingCents,
	}

	if openingCents < 0 && !a.CanHaveNegativeBalance() {
		return nil, fmt.Errorf("%w: %s 类账户期初余额不能为负", ErrInvalidAccountState, category)
	}

	return a, nil
}

// ReconstructAccount 从存储行重建聚合
//
// 【关键点】重建必须走和新建同一条不变式检查路径，
// 绝不通过反射绕过构造器直接写字段
func ReconstructAccount(row Account) (*Account, error) {
	normalSide, err := NormalSideFor(row.Category)
	if err != nil {
		return nil, err
	}
	if row.NormalSide != normalSide {
		return nil, fmt.Errorf("%w: 账户 %d 的正常余额方向与类别不一致", ErrInvalidAccountState, row.ID)
	}
	if row.CurrentBalanceCents < 0 && !(&row).CanHaveNegativeBalance() {
		return nil, fmt.Errorf("%w: 账户 %d 的 %s 类余额为负", ErrInvalidAccountState, row.ID, row.Category)
	}

	a := row
	a.events = nil
	return &a, nil
}

// CanHaveNegativeBalance 是否允许负余额
//
// 权益类允许（所有者超额提取）；系统/外部账户也允许 ——
// 它们是资金进出账本的对侧，余额符号没有业务含义。
// 预检闸门和 ApplyChange 的负余额拦截都以此为准，口径必须一致
func (a *Account) CanHaveNegativeBalance() bool {
	return a.Category == CategoryEquity || a.IsSystem
}

// WouldBeNegativeAfterChange 预检：应用增量后余额是否会变负（不修改状态）
func (a *Account) WouldBeNegativeAfterChange(deltaCents int64) bool {
	return a.CurrentBalanceCents+deltaCents < 0
}

// ApplyChange 应用一笔余额变更，这是唯一允许修改 current 的入口
//
// 【关键点】先断言 change.PreviousBalanceCents == current：
// 对不上说明读到了过期数据（并发写竞争），必须作为 ErrConcurrencyConflict
// 上抛，由调用方重新走"读取-计算-写入"，绝不能悄悄纠正后继续
func (a *Account) ApplyChange(change BalanceChange, now time.Time) (BalanceChangedEvent, error) {
	if change.AccountID != a.ID {
		return BalanceChangedEvent{}, fmt.Errorf("%w: 变更属于账户 %d，当前账户是 %d",
			ErrInvalidAccountState, change.AccountID, a.ID)
	}
	if change.PreviousBalanceCents != a.CurrentBalanceCents {
		return BalanceChangedEvent{}, fmt.Errorf("%w: 期望余额 %d，实际余额 %d",
			ErrConcurrencyConflict, change.PreviousBalanceCents, a.CurrentBalanceCents)
	}
	if change.NewBalanceCents < 0 && !a.CanHaveNegativeBalance() {
		return BalanceChangedEvent{}, fmt.Errorf("%w: %s 类账户余额不能变为 %d",
			ErrInvalidAccountState, a.Category, change.NewBalanceCents)
	}

	oldBalance := a.CurrentBalanceCents
	a.CurrentBalanceCents = change.NewBalanceCents
	a.TransactionCount++
	if change.Side == SideDebit {
		a.TotalDebitsCents += change.AmountCents
	} else {
		a.TotalCreditsCents += change.AmountCents
	}
	a.LastTransactionAt = &now
	a.Version++

	event := BalanceChangedEvent{
		AccountID:        a.ID,
		CompanyID:        a.CompanyID,
		EntryNo:          change.EntryNo,
		Side:             change.Side,
		AmountCents:      change.AmountCents,
		ChangeCents:      change.ChangeCents,
		OldBalanceCents:  oldBalance,
		NewBalanceCents:  a.CurrentBalanceCents,
		TransactionCount: a.TransactionCount,
		Version:          a.Version,
		OccurredAt:       now,
	}
	a.events = append(a.events, event)
	return event, nil
}

// ReleaseEvents 取出并清空累积的领域事件
//
// 【关键点】只排空一次（outbox 模式）：调用方在事务提交成功后取走事件，
// 第二次调用返回空
func (a *Account) ReleaseEvents() []BalanceChangedEvent {
	events := a.events
	a.events = nil
	return events
}

// BalanceChangedEvent 余额变更领域事件，由调用方在提交后持久化/发布
type BalanceChangedEvent struct {
	AccountID        int64     `json:"account_id"`
	CompanyID        int64     `json:"company_id"`
	EntryNo          string    `json:"entry_no"`
	Side             string    `json:"side"`
	AmountCents      int64     `json:"amount_cents"`
	ChangeCents      int64     `json:"change_cents"`
	OldBalanceCents  int64     `json:"old_balance_cents"`
	NewBalanceCents  int64     `json:"new_balance_cents"`
	TransactionCount int64     `json:"transaction_count"`
	Version          int       `json:"version"`
	OccurredAt       time.Time `json:"occurred_at"`
}
