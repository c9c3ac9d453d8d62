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
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"
	"bookkeeper/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type PostingService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	journalRepo *repository.JournalRepository
	auditRepo   *repository.AuditRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPostingService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PostingService {
	return &PostingService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		journalRepo: repository.NewJournalRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

type PostRequest struct {
	RequestID string                `json:"request_id" binding:"required"` // 幂等ID，调用方生成
	CompanyID int64                 `json:"company_id" binding:"required"`
	Memo      string                `json:"memo"`
	Lines     []ledger.ProposedLine `json:"lines" binding:"required,min=2"`
}

type PostResponse struct {
	EntryNo    string             `json:"entry_no,omitempty"`
	Status     string             `json:"status,omitempty"`
	Valid      bool               `json:"valid"`
	Violations []ledger.Violation `json:"violations,omitempty"`
	AuditNo    string             `json:"audit_no,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Post 过账一笔分录
//
// 【关键点】过账是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会落一笔分录
// 2. 单一闸门：借贷必平 / 余额不变负 / 恒等式预演，三段校验全过才落账
// 3. 原子性：余额变更、分录行、审计链环、outbox 消息同事务成功或失败
// 4. 并发安全：公司账本锁串行化余额写与链追加
func (s *PostingService) Post(ctx context.Context, req *PostRequest) (*PostResponse, error) {
	// 幂等校验
	existing, err := s.journalRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询分录失败: %w", err)
	}
	if existing != nil {
		return &PostResponse{
			EntryNo: existing.EntryNo,
			Status:  existing.Status,
			Valid:   true,
			Message: "分录已存在",
		}, nil
	}

	// 获取公司账本锁
	ledgerLock := lock.NewLedgerLock(s.redisClient, req.CompanyID, req.RequestID)
	if err := ledgerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer ledgerLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	existing, err = s.journalRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询分录失败: %w", err)
	}
	if existing != nil {
		return &PostResponse{
			EntryNo: existing.EntryNo,
			Status:  existing.Status,
			Valid:   true,
			Message: "分录已存在",
		}, nil
	}

	// 乐观锁冲突时重试整个"读取-计算-写入"流程
	retries := s.cfg.Business.PostRetryCount
	if retries < 1 {
		retries = 1
	}
	var resp *PostResponse
	for attempt := 1; attempt <= retries; attempt++ {
		resp, err = s.postOnce(ctx, req, model.AuditActionEntryPosted, "")
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) && !errors.Is(err, model.ErrConcurrencyConflict) {
			return nil, err
		}
		log.Printf("[Posting] 乐观锁冲突，重试 %d/%d: requestID=%s", attempt, retries, req.RequestID)
	}
	return nil, fmt.Errorf("过账失败: %w", err)
}

// postOnce 一次完整的"读取-校验-应用-落库"，所有写动作在一个事务里
//
// reversalOf 非空时表示这是作废流程过的镜像分录
func (s *PostingService) postOnce(ctx context.Context, req *PostRequest, action, reversalOf string) (*PostResponse, error) {
	var resp *PostResponse

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 公司全量余额快照（事务内读取，口径与恒等式校验一致）
		all, err := s.accountRepo.ListByCompany(ctx, tx, req.CompanyID)
		if err != nil {
			return fmt.Errorf("读取公司余额失败: %w", err)
		}
		balances := make(map[int64]*model.Account, len(all))
		readVersions := make(map[int64]int, len(all))
		for _, a := range all {
			balances[a.ID] = a
			readVersions[a.ID] = a.Version
		}

		// 单一闸门：三段式预检。失败是业务结果，不是错误
		validation := ledger.ValidateProposedTransaction(req.CompanyID, balances, req.Lines)
		if !validation.Valid {
			resp = &PostResponse{Valid: false, Violations: validation.Violations, Message: "预检未通过"}
			return nil
		}

		entryNo := idgen.GenerateEntryNo()
		now := time.Now()

		entry := &model.JournalEntry{
			EntryNo:    entryNo,
			RequestID:  req.RequestID,
			CompanyID:  req.CompanyID,
			Memo:       req.Memo,
			Status:     model.EntryStatusDraft,
			ReversalOf: reversalOf,
		}
		if err := s.journalRepo.CreateEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("创建分录失败: %w", err)
		}

		// 逐行计算并应用余额变更，同一账户多行时依次推进
		lines := make([]model.JournalLine, 0, len(req.Lines))
		touched := make(map[int64]*model.Account)
		for _, proposed := range req.Lines {
			account := balances[proposed.AccountID]
			change, err := model.ComputeBalanceChange(account.NormalSide, proposed.Side,
				account.CurrentBalanceCents, proposed.AmountCents, account.ID, entryNo)
			if err != nil {
				return fmt.Errorf("计算余额变更失败: %w", err)
			}
			if _, err := account.ApplyChange(change, now); err != nil {
				return fmt.Errorf("应用余额变更失败: %w", err)
			}
			touched[account.ID] = account

			lines = append(lines, model.JournalLine{
				EntryNo:            entryNo,
				CompanyID:          req.CompanyID,
				AccountID:          account.ID,
				Side:               change.Side,
				AmountCents:        change.AmountCents,
				ChangeCents:        change.ChangeCents,
				BalanceBeforeCents: change.PreviousBalanceCents,
				BalanceAfterCents:  change.NewBalanceCents,
			})
		}
		if err := s.journalRepo.CreateLines(ctx, tx, lines); err != nil {
			return fmt.Errorf("记录分录行失败: %w", err)
		}

		// 按读取时的版本号条件写回余额
		for id, account := range touched {
			if err := s.accountRepo.SaveBalance(ctx, tx, account, readVersions[id]); err != nil {
				return fmt.Errorf("写回余额失败: %w", err)
			}
		}

		if err := s.journalRepo.UpdateStatus(ctx, tx, entryNo, model.EntryStatusDraft, model.EntryStatusPosted,
			map[string]interface{}{"posted_at": now}); err != nil {
			return fmt.Errorf("更新分录状态失败: %w", err)
		}

		// 【关键点】冲正时原分录的 POSTED -> VOIDED 必须和镜像分录同事务：
		// 分开提交的话，镜像已落账而原分录还是 POSTED 的中间态一旦暴露，
		// 重试作废会再过一笔镜像，余额被双重冲正
		if reversalOf != "" {
			if err := s.journalRepo.UpdateStatus(ctx, tx, reversalOf, model.EntryStatusPosted, model.EntryStatusVoided,
				map[string]interface{}{"voided_at": now}); err != nil {
				return fmt.Errorf("更新原分录状态失败: %w", err)
			}
		}

		// 审计链环（调用方已持有公司锁，链头不会被并发移动）
		var totalCents int64
		lineDigests := make([]interface{}, 0, len(lines))
		for _, line := range lines {
			if line.Side == model.SideDebit {
				totalCents += line.AmountCents
			}
			lineDigests = append(lineDigests, map[string]interface{}{
				"account_id":   line.AccountID,
				"side":         line.Side,
				"amount_cents": line.AmountCents,
				"after_cents":  line.BalanceAfterCents,
			})
		}
		payload := map[string]interface{}{
			"action":      action,
			"company_id":  req.CompanyID,
			"entry_no":    entryNo,
			"reversal_of": reversalOf,
			"total_cents": totalCents,
			"lines":       lineDigests,
		}
		record, err := appendAuditRecord(ctx, tx, s.auditRepo, req.CompanyID, action, entryNo, payload)
		if err != nil {
			return err
		}

		// 余额变更事件走 outbox 出库
		events := make([]model.BalanceChangedEvent, 0, len(touched))
		for _, account := range touched {
			events = append(events, account.ReleaseEvents()...)
		}
		eventPayload, _ := json.Marshal(map[string]interface{}{
			"entry_no":   entryNo,
			"company_id": req.CompanyID,
			"action":     action,
			"audit_no":   record.AuditNo,
			"events":     events,
			"posted_at":  now.Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: entryNo,
			Topic:      s.cfg.Kafka.Topic.LedgerEvent,
			Payload:    string(eventPayload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		resp = &PostResponse{
			EntryNo: entryNo,
			Status:  model.EntryStatusPosted,
			Valid:   true,
			AuditNo: record.AuditNo,
			Message: "过账成功",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Valid {
		log.Printf("过账成功: entryNo=%s, companyID=%d, requestID=%s", resp.EntryNo, req.CompanyID, req.RequestID)
	}
	return resp, nil
}

// GetEntry 查询分录及其行
func (s *PostingService) GetEntry(ctx context.Context, entryNo string) (*model.JournalEntry, error) {
	entry, err := s.journalRepo.GetByEntryNo(ctx, entryNo)
	if err != nil {
		return nil, err
	}
	lines, err := s.journalRepo.GetLines(ctx, entryNo)
	if err != nil {
		return nil, err
	}
	entry.Lines = lines
	return entry, nil
}

func (s *PostingService) ListEntries(ctx context.Context, companyID int64, page, pageSize int) ([]*model.JournalEntry, int64, error) {
	return s.journalRepo.ListByCompany(ctx, companyID, page, pageSize)
}
