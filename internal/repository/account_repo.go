package repository

import (
	"context"
	"errors"

	"bookkeeper/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("账户不存在")
	ErrDuplicateCode   = errors.New("同一公司下科目编码重复")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

// GetByID 读取账户行并通过聚合工厂重建（重建走与新建相同的不变式检查）
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var row model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return model.ReconstructAccount(row)
}

func (r *AccountRepository) GetByCompanyAndCode(ctx context.Context, companyID int64, code string) (*model.Account, error) {
	var row model.Account
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND code = ?", companyID, code).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return model.ReconstructAccount(row)
}

// ListByCompany 读取公司全部账户
//
// 【注意】恒等式校验依赖全公司余额的一致性快照，
// 调用方必须在同一个事务（可重复读）里调用本方法和后续校验
func (r *AccountRepository) ListByCompany(ctx context.Context, tx *gorm.DB, companyID int64) ([]*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []model.Account
	err := tx.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, 0, len(rows))
	for _, row := range rows {
		account, err := model.ReconstructAccount(row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// ListByIDs 按 ID 批量读取（过账时加载分录触及的账户）
func (r *AccountRepository) ListByIDs(ctx context.Context, tx *gorm.DB, ids []int64) (map[int64]*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []model.Account
	err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	accounts := make(map[int64]*model.Account, len(rows))
	for _, row := range rows {
		account, err := model.ReconstructAccount(row)
		if err != nil {
			return nil, err
		}
		accounts[account.ID] = account
	}
	return accounts, nil
}

// SaveBalance 按乐观锁版本条件写回聚合的余额与计数器
//
// 【关键点】WHERE 带上读取时的版本号：
// 命中 0 行说明别人先写了（本次写基于过期读），返回 ErrOptimisticLock，
// 调用方必须重新走完整的"读取-计算-写入"，绝不能直接重放增量
func (r *AccountRepository) SaveBalance(ctx context.Context, tx *gorm.DB, account *model.Account, readVersion int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, readVersion).
		Updates(map[string]interface{}{
			"current_balance_cents": account.CurrentBalanceCents,
			"total_debits_cents":    account.TotalDebitsCents,
			"total_credits_cents":   account.TotalCreditsCents,
			"transaction_count":     account.TransactionCount,
			"last_transaction_at":   account.LastTransactionAt,
			"version":               account.Version,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}
