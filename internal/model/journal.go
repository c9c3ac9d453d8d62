package model

import (
	"time"
)

// ============================================================================
// 分录状态
// ============================================================================

const (
	EntryStatusDraft  = "DRAFT"  // 已创建未过账（校验失败时停留在此状态）
	EntryStatusPosted = "POSTED" // 已过账，余额已变更
	EntryStatusVoided = "VOIDED" // 已作废（由镜像分录冲正）
)

var ValidStatusTransitions = map[string][]string{
	EntryStatusDraft:  {EntryStatusPosted},
	EntryStatusPosted: {EntryStatusVoided},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 会计分录
// ============================================================================

// JournalEntry 会计分录表头
//
// 【重要】分录设计原则：
// 1. 只追加，不修改，不删除 —— 作废通过过一笔镜像分录实现，原分录保留
// 2. request_id 全局唯一 —— 保证过账请求幂等
// 3. 借贷必平 —— 过账前由会计恒等式校验器强制检查
type JournalEntry struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	RequestID  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，调用方传入
	CompanyID  int64      `gorm:"index;not null" json:"company_id"`
	Memo       string     `gorm:"type:varchar(256)" json:"memo"`
	Status     string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ReversalOf string     `gorm:"type:varchar(64);index" json:"reversal_of"` // 冲正分录指向原分录号
	PostedAt   *time.Time `json:"posted_at"`
	VoidedAt   *time.Time `json:"voided_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Lines []JournalLine `gorm:"-" json:"lines,omitempty"`
}

func (JournalEntry) TableName() string {
	return "journal_entry"
}

// JournalLine 分录行，记录每个账户的一次资金变动，是对账的核心依据
//
// 记录变动前后余额，便于校验余额一致性
type JournalLine struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo            string    `gorm:"type:varchar(64);index;not null" json:"entry_no"`
	CompanyID          int64     `gorm:"index;not null" json:"company_id"`
	AccountID          int64     `gorm:"index;not null" json:"account_id"`
	Side               string    `gorm:"type:varchar(8);not null" json:"side"`
	AmountCents        int64     `gorm:"not null" json:"amount_cents"`         // 金额（正整数，分）
	ChangeCents        int64     `gorm:"not null" json:"change_cents"`         // 带符号增量
	BalanceBeforeCents int64     `gorm:"not null" json:"balance_before_cents"` // 变动前余额
	BalanceAfterCents  int64     `gorm:"not null" json:"balance_after_cents"`  // 变动后余额
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (JournalLine) TableName() string {
	return "journal_line"
}
