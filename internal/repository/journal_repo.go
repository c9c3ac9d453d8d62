package repository

import (
	"context"
	"errors"

	"bookkeeper/internal/model"

	"gorm.io/gorm"
)

var ErrEntryNotFound = errors.New("分录不存在")

type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) CreateEntry(ctx context.Context, tx *gorm.DB, entry *model.JournalEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *JournalRepository) CreateLines(ctx context.Context, tx *gorm.DB, lines []model.JournalLine) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&lines).Error
}

func (r *JournalRepository) GetByEntryNo(ctx context.Context, entryNo string) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	err := r.db.WithContext(ctx).Where("entry_no = ?", entryNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// GetByRequestID 幂等查询：同一个 request_id 只会落一笔分录
func (r *JournalRepository) GetByRequestID(ctx context.Context, requestID string) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetReversal 查询指向某分录的冲正分录，不存在时返回 nil
func (r *JournalRepository) GetReversal(ctx context.Context, entryNo string) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	err := r.db.WithContext(ctx).Where("reversal_of = ?", entryNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *JournalRepository) GetLines(ctx context.Context, entryNo string) ([]model.JournalLine, error) {
	var lines []model.JournalLine
	err := r.db.WithContext(ctx).
		Where("entry_no = ?", entryNo).
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

// UpdateStatus 按状态机条件更新分录状态
//
// WHERE 带上当前状态：命中 0 行说明状态已被并发修改，直接报错而不是覆盖
func (r *JournalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, entryNo, fromStatus, toStatus string, updates map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return errors.New("非法的分录状态流转: " + fromStatus + " -> " + toStatus)
	}
	if tx == nil {
		tx = r.db
	}

	values := map[string]interface{}{"status": toStatus}
	for k, v := range updates {
		values[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.JournalEntry{}).
		Where("entry_no = ? AND status = ?", entryNo, fromStatus).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("分录状态已变化，更新失败: " + entryNo)
	}
	return nil
}

func (r *JournalRepository) ListByCompany(ctx context.Context, companyID int64, page, pageSize int) ([]*model.JournalEntry, int64, error) {
	var entries []*model.JournalEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.JournalEntry{}).Where("company_id = ?", companyID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
