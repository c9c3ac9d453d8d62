package model

import (
	"time"
)

// ============================================================================
// 审计链与默克尔批次
// ============================================================================

const (
	AuditActionAccountOpen = "ACCOUNT_OPEN"
	AuditActionEntryPosted = "ENTRY_POSTED"
	AuditActionEntryVoided = "ENTRY_VOIDED"
)

// AuditRecord 审计记录表，每条记录是公司哈希链上的一个链环
//
// 【重要】审计链设计原则：
// 1. 只追加，严格按公司内 sequence 递增，追加必须串行（公司级追加锁）
// 2. prev_hash 指向上一条记录的 record_hash，首条指向创世哈希
// 3. record_hash = ChainLink{prev_hash, content_hash, recorded_at} 的摘要，
//    事后改任何一条记录都会使其后整条链验证失败
type AuditRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AuditNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"audit_no"`
	CompanyID   int64     `gorm:"uniqueIndex:uk_company_seq;not null" json:"company_id"`
	Sequence    int64     `gorm:"uniqueIndex:uk_company_seq;not null" json:"sequence"` // 公司内从 1 开始连续递增
	Action      string    `gorm:"type:varchar(32);not null" json:"action"`
	EntryNo     string    `gorm:"type:varchar(64);index" json:"entry_no"` // 关联分录号（开户记录为空）
	Payload     string    `gorm:"type:text;not null" json:"payload"`      // 规范化 JSON 内容
	ContentHash string    `gorm:"type:char(64);not null" json:"content_hash"`
	PrevHash    string    `gorm:"type:char(64);not null" json:"prev_hash"`
	RecordHash  string    `gorm:"type:char(64);not null" json:"record_hash"`
	RecordedAt  time.Time `gorm:"not null" json:"recorded_at"`
	BatchNo     string    `gorm:"type:varchar(64);index" json:"batch_no"` // 折叠进默克尔批次后回填
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AuditRecord) TableName() string {
	return "audit_record"
}

// MerkleBatch 默克尔批次表
//
// 一个批次把公司审计链上 [from_sequence, to_sequence] 区间的记录
// 折叠成一棵默克尔树，只需公布根哈希，外部审计方即可用包含证明
// 验证单条记录的归属，无需重放整条链
type MerkleBatch struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"batch_no"`
	CompanyID    int64     `gorm:"index;not null" json:"company_id"`
	FromSequence int64     `gorm:"not null" json:"from_sequence"`
	ToSequence   int64     `gorm:"not null" json:"to_sequence"`
	LeafCount    int       `gorm:"not null" json:"leaf_count"`
	RootHash     string    `gorm:"type:char(64);not null" json:"root_hash"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MerkleBatch) TableName() string {
	return "merkle_batch"
}
