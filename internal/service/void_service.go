package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bookkeeper/internal/config"
	"bookkeeper/internal/infrastructure/lock"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type VoidService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	journalRepo *repository.JournalRepository
	posting     *PostingService
}

func NewVoidService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *VoidService {
	return &VoidService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		journalRepo: repository.NewJournalRepository(db),
		posting:     NewPostingService(db, redisClient, cfg),
	}
}

type VoidRequest struct {
	RequestID string `json:"request_id" binding:"required"` // 幂等ID
	EntryNo   string `json:"entry_no" binding:"required"`
	Reason    string `json:"reason"`
}

type VoidResponse struct {
	EntryNo    string             `json:"entry_no"`
	ReversalNo string             `json:"reversal_no,omitempty"`
	Status     string             `json:"status"`
	Valid      bool               `json:"valid"`
	Violations []ledger.Violation `json:"violations,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// mirrorLines 把分录行映射成冲正用的镜像行：相反方向、相同金额
//
// 正负号逻辑只存在于 ComputeBalanceChange 一处，这里只翻转方向
func mirrorLines(lines []model.JournalLine) []ledger.ProposedLine {
	mirrored := make([]ledger.ProposedLine, 0, len(lines))
	for _, line := range lines {
		mirrored = append(mirrored, ledger.ProposedLine{
			AccountID:   line.AccountID,
			Side:        model.OppositeSide(line.Side),
			AmountCents: line.AmountCents,
		})
	}
	return mirrored
}

// Void 作废一笔已过账分录
//
// 【关键点】作废不是改写历史，而是过一笔镜像分录：
// 每一行取原行的相反方向、相同金额，增量正好是原变更的精确取反，
// 所以"过账 + 作废"这一对对余额永远是净零的。
// 镜像落账和原分录 POSTED -> VOIDED 在 postOnce 的同一个事务里提交，
// 不存在"镜像已落账、原分录还是 POSTED"的中间态
func (s *VoidService) Void(ctx context.Context, req *VoidRequest) (*VoidResponse, error) {
	entry, err := s.journalRepo.GetByEntryNo(ctx, req.EntryNo)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, errors.New("分录不存在")
		}
		return nil, fmt.Errorf("查询分录失败: %w", err)
	}

	if entry.Status != model.EntryStatusPosted {
		if entry.Status == model.EntryStatusVoided {
			return &VoidResponse{
				EntryNo: entry.EntryNo,
				Status:  model.EntryStatusVoided,
				Valid:   true,
				Message: "分录已作废，请勿重复操作",
			}, nil
		}
		return nil, fmt.Errorf("分录状态不允许作废，当前状态: %s", entry.Status)
	}

	ledgerLock := lock.NewLedgerLock(s.redisClient, entry.CompanyID, req.RequestID)
	if err := ledgerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer ledgerLock.Unlock(ctx)

	// 获取锁后重读，防止并发作废
	entry, err = s.journalRepo.GetByEntryNo(ctx, req.EntryNo)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.EntryStatusPosted {
		if entry.Status == model.EntryStatusVoided {
			return &VoidResponse{
				EntryNo: entry.EntryNo,
				Status:  model.EntryStatusVoided,
				Valid:   true,
				Message: "分录已作废，请勿重复操作",
			}, nil
		}
		return nil, fmt.Errorf("分录状态不允许作废，当前状态: %s", entry.Status)
	}

	// 兜底：已存在指向本分录的镜像分录说明作废早已落账，
	// 无论换什么 request_id 重试都不允许再冲一次
	existingReversal, err := s.journalRepo.GetReversal(ctx, req.EntryNo)
	if err != nil {
		return nil, fmt.Errorf("查询冲正分录失败: %w", err)
	}
	if existingReversal != nil {
		return &VoidResponse{
			EntryNo:    req.EntryNo,
			ReversalNo: existingReversal.EntryNo,
			Status:     model.EntryStatusVoided,
			Valid:      true,
			Message:    "分录已作废，请勿重复操作",
		}, nil
	}

	originalLines, err := s.journalRepo.GetLines(ctx, req.EntryNo)
	if err != nil {
		return nil, fmt.Errorf("查询分录行失败: %w", err)
	}

	// 镜像分录走与正常过账完全相同的闸门和落库路径
	postReq := &PostRequest{
		RequestID: req.RequestID,
		CompanyID: entry.CompanyID,
		Memo:      fmt.Sprintf("作废-%s-%s", req.EntryNo, req.Reason),
		Lines:     mirrorLines(originalLines),
	}

	retries := s.cfg.Business.PostRetryCount
	if retries < 1 {
		retries = 1
	}
	var postResp *PostResponse
	for attempt := 1; attempt <= retries; attempt++ {
		postResp, err = s.posting.postOnce(ctx, postReq, model.AuditActionEntryVoided, req.EntryNo)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrOptimisticLock) && !errors.Is(err, model.ErrConcurrencyConflict) {
			return nil, err
		}
		log.Printf("[Void] 乐观锁冲突，重试 %d/%d: entryNo=%s", attempt, retries, req.EntryNo)
	}
	if err != nil {
		return nil, fmt.Errorf("作废失败: %w", err)
	}

	if !postResp.Valid {
		return &VoidResponse{
			EntryNo:    req.EntryNo,
			Status:     entry.Status,
			Valid:      false,
			Violations: postResp.Violations,
			Message:    "作废预检未通过",
		}, nil
	}

	log.Printf("作废成功: entryNo=%s, reversalNo=%s", req.EntryNo, postResp.EntryNo)

	return &VoidResponse{
		EntryNo:    req.EntryNo,
		ReversalNo: postResp.EntryNo,
		Status:     model.EntryStatusVoided,
		Valid:      true,
		Message:    "作废成功",
	}, nil
}
