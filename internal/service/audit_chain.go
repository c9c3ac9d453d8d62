package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"
	"bookkeeper/pkg/idgen"
	"bookkeeper/pkg/integrity"

	"gorm.io/gorm"
)

// ============================================================================
// 审计链追加
// ============================================================================
//
// 所有会改变账本的操作（开户、过账、作废）都在同一个数据库事务里
// 追加一条审计记录。追加逻辑集中在这里，保证链环的构造方式全局唯一。
//
// 【注意】调用方必须已持有该公司的账本锁：链是严格串行的，
// 每个新链环的 previousHash 必须是当前链头
//
// ============================================================================

// companyGenesis 公司审计链的创世哈希
func companyGenesis(companyID int64) integrity.ContentHash {
	return integrity.Genesis(fmt.Sprintf("company:%d", companyID))
}

// appendAuditRecord 把一条审计内容挂到公司哈希链的链头上
//
// payload 的取值只允许字符串、布尔和绝对值小于 2^53 的数字，
// 保证 JSON 往返后重新哈希得到同样的摘要
func appendAuditRecord(ctx context.Context, tx *gorm.DB, auditRepo *repository.AuditRepository,
	companyID int64, action, entryNo string, payload map[string]interface{}) (*model.AuditRecord, error) {

	head, err := auditRepo.GetChainHead(ctx, tx, companyID)
	if err != nil {
		return nil, fmt.Errorf("读取链头失败: %w", err)
	}

	previous := companyGenesis(companyID)
	sequence := int64(1)
	if head != nil {
		previous, err = integrity.ParseHex(head.RecordHash)
		if err != nil {
			return nil, fmt.Errorf("链头哈希损坏: %w", err)
		}
		sequence = head.Sequence + 1
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化审计内容失败: %w", err)
	}
	contentHash := integrity.FromContent(payloadBytes)

	// 截断到秒：MySQL DATETIME 不保留纳秒，否则读回重算哈希必然对不上
	recordedAt := time.Now().UTC().Truncate(time.Second)

	link := integrity.NewChainLink(previous, contentHash, recordedAt)
	record := &model.AuditRecord{
		AuditNo:     idgen.GenerateAuditNo(),
		CompanyID:   companyID,
		Sequence:    sequence,
		Action:      action,
		EntryNo:     entryNo,
		Payload:     string(payloadBytes),
		ContentHash: contentHash.Hex(),
		PrevHash:    previous.Hex(),
		RecordHash:  link.ComputeHash().Hex(),
		RecordedAt:  recordedAt,
	}

	if err := auditRepo.Append(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("追加审计记录失败: %w", err)
	}
	return record, nil
}
