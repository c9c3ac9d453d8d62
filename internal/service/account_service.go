package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookkeeper/internal/config"
	"bookkeeper/internal/infrastructure/lock"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type AccountService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	auditRepo   *repository.AuditRepository
}

func NewAccountService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AccountService {
	return &AccountService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
	}
}

type OpenAccountRequest struct {
	CompanyID           int64  `json:"company_id" binding:"required"`
	Code                string `json:"code" binding:"required"`
	Name                string `json:"name" binding:"required"`
	Category            string `json:"category" binding:"required"`
	Currency            string `json:"currency" binding:"required"`
	IsSystem            bool   `json:"is_system"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

// OpenAccount 开户：创建账户聚合并在审计链上记一条 ACCOUNT_OPEN
//
// 开户也要拿公司账本锁 —— 审计链追加必须串行
func (s *AccountService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*model.Account, error) {
	existing, err := s.accountRepo.GetByCompanyAndCode(ctx, req.CompanyID, req.Code)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	if existing != nil {
		return nil, repository.ErrDuplicateCode
	}

	account, err := model.NewAccount(req.CompanyID, req.Code, req.Name, req.Category, req.Currency, req.OpeningBalanceCents)
	if err != nil {
		return nil, err
	}
	account.IsSystem = req.IsSystem

	ledgerLock := lock.NewLedgerLock(s.redisClient, req.CompanyID, "open:"+req.Code)
	if err := ledgerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer ledgerLock.Unlock(ctx)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Create(ctx, tx, account); err != nil {
			return fmt.Errorf("创建账户失败: %w", err)
		}

		payload := map[string]interface{}{
			"action":                model.AuditActionAccountOpen,
			"company_id":            req.CompanyID,
			"account_id":            account.ID,
			"code":                  req.Code,
			"category":              req.Category,
			"currency":              req.Currency,
			"is_system":             req.IsSystem,
			"opening_balance_cents": req.OpeningBalanceCents,
		}
		if _, err := appendAuditRecord(ctx, tx, s.auditRepo, req.CompanyID, model.AuditActionAccountOpen, "", payload); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountID)
}

func (s *AccountService) ListAccounts(ctx context.Context, companyID int64) ([]*model.Account, error) {
	return s.accountRepo.ListByCompany(ctx, nil, companyID)
}

// CheckEquation 会计恒等式体检
//
// 【关键点】在一个数据库事务里读全量余额再校验，
// 拿到的是一致性快照，不会把改了一半的账本误报为不平
func (s *AccountService) CheckEquation(ctx context.Context, companyID int64) (ledger.EquationResult, error) {
	var result ledger.EquationResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		balances, err := s.accountRepo.ListByCompany(ctx, tx, companyID)
		if err != nil {
			return fmt.Errorf("读取公司余额失败: %w", err)
		}
		result = ledger.ValidateEquation(companyID, balances)
		return nil
	})
	return result, err
}
