package job

import (
	"context"
	"log"
	"time"

	"bookkeeper/internal/config"
	"bookkeeper/internal/repository"
	"bookkeeper/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MerkleBatchJob 默克尔批次后台任务
//
// 哈希链的验证是串行重放，记录越多越慢。本任务周期性地把每个公司
// 攒够数量的审计记录折叠成默克尔批次并发布根哈希，外部审计方
// 之后只需要 log2(n) 大小的包含证明就能验证单条记录的归属
type MerkleBatchJob struct {
	db           *gorm.DB
	auditRepo    *repository.AuditRepository
	auditService *service.AuditService
	cfg          *config.Config
	interval     time.Duration
}

func NewMerkleBatchJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *MerkleBatchJob {
	interval := time.Duration(cfg.Business.MerkleBatchIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MerkleBatchJob{
		db:           db,
		auditRepo:    repository.NewAuditRepository(db),
		auditService: service.NewAuditService(db, redisClient, cfg),
		cfg:          cfg,
		interval:     interval,
	}
}

func (j *MerkleBatchJob) Start(ctx context.Context) {
	log.Println("[MerkleBatch] 批次构建任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[MerkleBatch] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.buildDueBatches(ctx)
		}
	}
}

// buildDueBatches 扫描所有有未折叠记录的公司，攒够批次大小的构建批次
func (j *MerkleBatchJob) buildDueBatches(ctx context.Context) {
	companyIDs, err := j.auditRepo.ListCompaniesWithUnbatched(ctx)
	if err != nil {
		log.Printf("[MerkleBatch] 查询公司列表失败: %v", err)
		return
	}

	for _, companyID := range companyIDs {
		count, err := j.auditRepo.CountUnbatched(ctx, companyID)
		if err != nil {
			log.Printf("[MerkleBatch] 统计未折叠记录失败: companyID=%d, err=%v", companyID, err)
			continue
		}
		if count < int64(j.cfg.Business.MerkleBatchSize) {
			continue
		}

		batch, err := j.auditService.BuildBatch(ctx, companyID)
		if err != nil {
			log.Printf("[MerkleBatch] 构建批次失败: companyID=%d, err=%v", companyID, err)
			continue
		}
		if batch != nil {
			log.Printf("[MerkleBatch] 批次构建完成: companyID=%d, batchNo=%s, leaves=%d",
				companyID, batch.BatchNo, batch.LeafCount)
		}
	}
}
