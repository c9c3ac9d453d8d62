package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bookkeeper/internal/config"
	"bookkeeper/internal/infrastructure/lock"
	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"
	"bookkeeper/pkg/idgen"
	"bookkeeper/pkg/integrity"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ErrIntegrityViolation 审计链或包含证明验证失败
//
// 【重要】这不是可本地恢复的错误：说明数据损坏或被篡改，
// 必须中止相关操作并上报硬告警，系统绝不尝试自动修复断链
var ErrIntegrityViolation = errors.New("完整性校验失败：数据损坏或被篡改")

type AuditService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	auditRepo   *repository.AuditRepository
	outboxRepo  *repository.OutboxRepository
}

func NewAuditService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AuditService {
	return &AuditService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		auditRepo:   repository.NewAuditRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// ChainVerification 链验证结果
type ChainVerification struct {
	CompanyID      int64  `json:"company_id"`
	Length         int    `json:"length"`
	Valid          bool   `json:"valid"`
	BrokenSequence int64  `json:"broken_sequence,omitempty"` // 第一条验证失败的记录
	BrokenAuditNo  string `json:"broken_audit_no,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// VerifyChain 从创世哈希开始逐环验证公司的整条审计链
//
// 每一环做三个检查：
// 1. 内容摘要：payload 重新哈希必须等于存储的 content_hash（内容被改）
// 2. 链环衔接：存储的 prev_hash 必须等于上一环重算出的摘要（链被接歪）
// 3. 链环摘要：重算的 record_hash 必须等于存储值（链环字段被改）
// 第一处失败即定位出最早被篡改或损坏的记录
func (s *AuditService) VerifyChain(ctx context.Context, companyID int64) (*ChainVerification, error) {
	records, err := s.auditRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("读取审计记录失败: %w", err)
	}

	result := &ChainVerification{CompanyID: companyID, Length: len(records), Valid: true}
	expected := companyGenesis(companyID)

	for i, record := range records {
		if record.Sequence != int64(i)+1 {
			return s.broken(result, record, fmt.Sprintf("sequence 不连续: 期望 %d 实际 %d", i+1, record.Sequence)), nil
		}

		contentHash := integrity.FromContent([]byte(record.Payload))
		if contentHash.Hex() != record.ContentHash {
			return s.broken(result, record, "内容摘要不匹配，payload 已被修改"), nil
		}

		storedPrev, err := integrity.ParseHex(record.PrevHash)
		if err != nil {
			return s.broken(result, record, "prev_hash 损坏: "+err.Error()), nil
		}

		link := integrity.NewChainLink(storedPrev, contentHash, record.RecordedAt)
		if !link.Verify(expected) {
			return s.broken(result, record, "prev_hash 与上一环摘要不符，链已断裂"), nil
		}

		recomputed := link.ComputeHash()
		if recomputed.Hex() != record.RecordHash {
			return s.broken(result, record, "record_hash 与重算结果不符，链环字段已被修改"), nil
		}

		expected = recomputed
	}

	return result, nil
}

func (s *AuditService) broken(result *ChainVerification, record *model.AuditRecord, reason string) *ChainVerification {
	result.Valid = false
	result.BrokenSequence = record.Sequence
	result.BrokenAuditNo = record.AuditNo
	result.Reason = reason
	// 硬告警：完整性破坏是运维事件，绝不能当成临时错误吞掉
	log.Printf("[ALERT] 审计链完整性校验失败: companyID=%d, sequence=%d, reason=%s",
		result.CompanyID, record.Sequence, reason)
	return result
}

// BuildBatch 把公司链上未折叠的审计记录折叠成一个默克尔批次
//
// 只折叠连续前缀（未折叠记录天然是上一批之后的连续区间），
// 批次之间的 sequence 区间永不重叠
func (s *AuditService) BuildBatch(ctx context.Context, companyID int64) (*model.MerkleBatch, error) {
	// 批次构建要和链追加互斥，复用公司账本锁
	batchNo := idgen.GenerateBatchNo()
	ledgerLock := lock.NewLedgerLock(s.redisClient, companyID, "batch:"+batchNo)
	if err := ledgerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer ledgerLock.Unlock(ctx)

	records, err := s.auditRepo.ListUnbatched(ctx, companyID, s.cfg.Business.MerkleBatchSize)
	if err != nil {
		return nil, fmt.Errorf("读取未折叠记录失败: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	leaves := make([]integrity.ContentHash, 0, len(records))
	for _, record := range records {
		leaf, err := integrity.ParseHex(record.RecordHash)
		if err != nil {
			log.Printf("[ALERT] 审计记录哈希损坏: auditNo=%s", record.AuditNo)
			return nil, fmt.Errorf("%w: %s", ErrIntegrityViolation, record.AuditNo)
		}
		leaves = append(leaves, leaf)
	}

	tree, err := integrity.FromLeaves(leaves)
	if err != nil {
		return nil, fmt.Errorf("构建默克尔树失败: %w", err)
	}

	batch := &model.MerkleBatch{
		BatchNo:      batchNo,
		CompanyID:    companyID,
		FromSequence: records[0].Sequence,
		ToSequence:   records[len(records)-1].Sequence,
		LeafCount:    tree.LeafCount(),
		RootHash:     tree.Root().Hex(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.auditRepo.CreateBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("创建批次失败: %w", err)
		}
		if err := s.auditRepo.MarkBatched(ctx, tx, companyID, batch.FromSequence, batch.ToSequence, batchNo); err != nil {
			return fmt.Errorf("回填批次号失败: %w", err)
		}

		// 批次根哈希发布给外部审计方
		payload, _ := json.Marshal(map[string]interface{}{
			"batch_no":      batchNo,
			"company_id":    companyID,
			"from_sequence": batch.FromSequence,
			"to_sequence":   batch.ToSequence,
			"leaf_count":    batch.LeafCount,
			"root_hash":     batch.RootHash,
			"created_at":    time.Now().Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: batchNo,
			Topic:      s.cfg.Kafka.Topic.AuditEvent,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("默克尔批次构建成功: batchNo=%s, companyID=%d, leaves=%d, root=%s",
		batchNo, companyID, batch.LeafCount, batch.RootHash)
	return batch, nil
}

// InclusionProofResult 包含证明，外部审计方凭此验证单条记录归属于已发布批次
type InclusionProofResult struct {
	AuditNo   string      `json:"audit_no"`
	BatchNo   string      `json:"batch_no"`
	LeafHash  string      `json:"leaf_hash"`
	RootHash  string      `json:"root_hash"`
	LeafIndex int         `json:"leaf_index"`
	Steps     []ProofStep `json:"steps"`
	Verified  bool        `json:"verified"`
}

// ProofStep 证明的一步（hex 形式，便于传输）
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// GetInclusionProof 为一条已折叠的审计记录生成包含证明
func (s *AuditService) GetInclusionProof(ctx context.Context, auditNo string) (*InclusionProofResult, error) {
	record, err := s.auditRepo.GetByAuditNo(ctx, auditNo)
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	if record == nil {
		return nil, errors.New("审计记录不存在")
	}
	if record.BatchNo == "" {
		return nil, errors.New("审计记录尚未折叠进批次，暂无法生成证明")
	}

	batch, err := s.auditRepo.GetBatchByNo(ctx, record.BatchNo)
	if err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}

	records, err := s.auditRepo.ListBySequenceRange(ctx, record.CompanyID, batch.FromSequence, batch.ToSequence)
	if err != nil {
		return nil, fmt.Errorf("读取批次记录失败: %w", err)
	}

	leaves := make([]integrity.ContentHash, 0, len(records))
	for _, r := range records {
		leaf, err := integrity.ParseHex(r.RecordHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIntegrityViolation, r.AuditNo)
		}
		leaves = append(leaves, leaf)
	}

	tree, err := integrity.FromLeaves(leaves)
	if err != nil {
		return nil, fmt.Errorf("重建默克尔树失败: %w", err)
	}

	// 重建出的根必须等于批次发布时的根，否则批次内有记录被改过
	root, err := integrity.ParseHex(batch.RootHash)
	if err != nil || !tree.Root().Equal(root) {
		log.Printf("[ALERT] 默克尔批次根不匹配: batchNo=%s, companyID=%d", batch.BatchNo, record.CompanyID)
		return nil, fmt.Errorf("%w: 批次 %s 根哈希不匹配", ErrIntegrityViolation, batch.BatchNo)
	}

	index := int(record.Sequence - batch.FromSequence)
	proof, err := tree.GenerateProof(index)
	if err != nil {
		return nil, fmt.Errorf("生成证明失败: %w", err)
	}

	leaf := leaves[index]
	steps := make([]ProofStep, 0, len(proof.Steps))
	for _, step := range proof.Steps {
		steps = append(steps, ProofStep{Hash: step.Hash.Hex(), Left: step.Left})
	}

	return &InclusionProofResult{
		AuditNo:   auditNo,
		BatchNo:   batch.BatchNo,
		LeafHash:  leaf.Hex(),
		RootHash:  batch.RootHash,
		LeafIndex: index,
		Steps:     steps,
		Verified:  proof.Verify(leaf, root),
	}, nil
}

func (s *AuditService) ListBatches(ctx context.Context, companyID int64) ([]*model.MerkleBatch, error) {
	return s.auditRepo.ListBatches(ctx, companyID)
}
