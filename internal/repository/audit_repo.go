package repository

import (
	"context"
	"errors"

	"bookkeeper/internal/model"

	"gorm.io/gorm"
)

var ErrBatchNotFound = errors.New("默克尔批次不存在")

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// GetChainHead 取公司审计链的链头（sequence 最大的记录）
//
// 返回 nil 表示链还是空的，下一条记录的 previousHash 用创世哈希
func (r *AuditRepository) GetChainHead(ctx context.Context, tx *gorm.DB, companyID int64) (*model.AuditRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.AuditRecord
	err := tx.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("sequence DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Append 追加一条审计记录
//
// (company_id, sequence) 上有唯一索引兜底：即使公司级锁失效，
// 两个并发追加者也只会有一个成功
func (r *AuditRepository) Append(ctx context.Context, tx *gorm.DB, record *model.AuditRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

// ListByCompany 按 sequence 升序读取公司全部审计记录（链验证用）
func (r *AuditRepository) ListByCompany(ctx context.Context, companyID int64) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("sequence ASC").
		Find(&records).Error
	return records, err
}

// ListBySequenceRange 读取 [from, to] 区间的审计记录（批次构建/证明用）
func (r *AuditRepository) ListBySequenceRange(ctx context.Context, companyID, from, to int64) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND sequence >= ? AND sequence <= ?", companyID, from, to).
		Order("sequence ASC").
		Find(&records).Error
	return records, err
}

func (r *AuditRepository) GetByAuditNo(ctx context.Context, auditNo string) (*model.AuditRecord, error) {
	var record model.AuditRecord
	err := r.db.WithContext(ctx).Where("audit_no = ?", auditNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListUnbatched 读取尚未折叠进批次的记录，按 sequence 升序
func (r *AuditRepository) ListUnbatched(ctx context.Context, companyID int64, limit int) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND batch_no = ''", companyID).
		Order("sequence ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// CountUnbatched 统计尚未折叠的记录数（批次任务的触发条件）
func (r *AuditRepository) CountUnbatched(ctx context.Context, companyID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("company_id = ? AND batch_no = ''", companyID).
		Count(&count).Error
	return count, err
}

// ListCompaniesWithUnbatched 有未折叠记录的公司列表（批次任务轮询用）
func (r *AuditRepository) ListCompaniesWithUnbatched(ctx context.Context) ([]int64, error) {
	var companyIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("batch_no = ''").
		Distinct("company_id").
		Pluck("company_id", &companyIDs).Error
	return companyIDs, err
}

// MarkBatched 把区间内的记录回填批次号
func (r *AuditRepository) MarkBatched(ctx context.Context, tx *gorm.DB, companyID, from, to int64, batchNo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("company_id = ? AND sequence >= ? AND sequence <= ?", companyID, from, to).
		Update("batch_no", batchNo).Error
}

func (r *AuditRepository) CreateBatch(ctx context.Context, tx *gorm.DB, batch *model.MerkleBatch) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(batch).Error
}

func (r *AuditRepository) GetBatchByNo(ctx context.Context, batchNo string) (*model.MerkleBatch, error) {
	var batch model.MerkleBatch
	err := r.db.WithContext(ctx).Where("batch_no = ?", batchNo).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (r *AuditRepository) ListBatches(ctx context.Context, companyID int64) ([]*model.MerkleBatch, error) {
	var batches []*model.MerkleBatch
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("from_sequence ASC").
		Find(&batches).Error
	return batches, err
}
