package handler

import (
	"errors"
	"strconv"

	"bookkeeper/internal/config"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/model"
	"bookkeeper/internal/repository"
	"bookkeeper/internal/service"
	"bookkeeper/pkg/money"
	"bookkeeper/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	postingService *service.PostingService
	voidService    *service.VoidService
	auditService   *service.AuditService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		accountService: service.NewAccountService(db, rdb, cfg),
		postingService: service.NewPostingService(db, rdb, cfg),
		voidService:    service.NewVoidService(db, rdb, cfg),
		auditService:   service.NewAuditService(db, rdb, cfg),
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// OpenAccountRequest 开户请求
type OpenAccountRequest struct {
	CompanyID      int64  `json:"company_id" binding:"required"`
	Code           string `json:"code" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Category       string `json:"category" binding:"required"` // ASSET/LIABILITY/EQUITY/REVENUE/EXPENSE
	Currency       string `json:"currency" binding:"required"`
	IsSystem       bool   `json:"is_system"`
	OpeningBalance string `json:"opening_balance"` // 十进制金额字符串，如 "1000.00"
}

// OpenAccount 开户
// POST /api/v1/account/open
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var openingCents int64
	if req.OpeningBalance != "" {
		var err error
		openingCents, err = money.ParseCents(req.OpeningBalance)
		if err != nil {
			response.ParamError(c, "opening_balance 参数错误: "+err.Error())
			return
		}
	}

	account, err := h.accountService.OpenAccount(c.Request.Context(), &service.OpenAccountRequest{
		CompanyID:           req.CompanyID,
		Code:                req.Code,
		Name:                req.Name,
		Category:            req.Category,
		Currency:            req.Currency,
		IsSystem:            req.IsSystem,
		OpeningBalanceCents: openingCents,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateCode) {
			response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
			return
		}
		if errors.Is(err, model.ErrInvalidAccountState) || errors.Is(err, model.ErrInvalidCategory) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"account_id":      account.ID,
		"code":            account.Code,
		"category":        account.Category,
		"normal_side":     account.NormalSide,
		"current_balance": money.FormatCents(account.CurrentBalanceCents),
	})
}

// GetBalance 查询账户余额
// GET /api/v1/account/balance?account_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	accountIDStr := c.Query("account_id")
	accountID, err := strconv.ParseInt(accountIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.BusinessError(c, response.CodeAccountNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"account_id":            account.ID,
		"company_id":            account.CompanyID,
		"code":                  account.Code,
		"category":              account.Category,
		"current_balance":       money.FormatCents(account.CurrentBalanceCents),
		"current_balance_cents": account.CurrentBalanceCents,
		"total_debits_cents":    account.TotalDebitsCents,
		"total_credits_cents":   account.TotalCreditsCents,
		"transaction_count":     account.TransactionCount,
		"version":               account.Version,
	})
}

// ListAccounts 查询公司账户列表
// GET /api/v1/account/list?company_id=xxx
func (h *Handler) ListAccounts(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "company_id 参数错误")
		return
	}

	accounts, err := h.accountService.ListAccounts(c.Request.Context(), companyID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  accounts,
		"total": len(accounts),
	})
}

// ============================================================
// 分录相关接口
// ============================================================

// PostLineRequest 过账分录行
type PostLineRequest struct {
	AccountID int64  `json:"account_id" binding:"required"`
	Side      string `json:"side" binding:"required"` // DEBIT / CREDIT
	Amount    string `json:"amount" binding:"required"`
}

// PostEntryRequest 过账请求
type PostEntryRequest struct {
	RequestID string            `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	CompanyID int64             `json:"company_id" binding:"required"`
	Memo      string            `json:"memo"`
	Lines     []PostLineRequest `json:"lines" binding:"required,min=2"`
}

// PostEntry 过账
// POST /api/v1/ledger/post
//
// 预检失败（借贷不平、余额变负、恒等式破坏）返回业务码和违规明细，
// 由调用方展示给用户，不作为服务端错误
func (h *Handler) PostEntry(c *gin.Context) {
	var req PostEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	lines := make([]ledger.ProposedLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		amountCents, err := money.ParseCents(line.Amount)
		if err != nil {
			response.ParamError(c, "amount 参数错误: "+err.Error())
			return
		}
		lines = append(lines, ledger.ProposedLine{
			AccountID:   line.AccountID,
			Side:        line.Side,
			AmountCents: amountCents,
		})
	}

	result, err := h.postingService.Post(c.Request.Context(), &service.PostRequest{
		RequestID: req.RequestID,
		CompanyID: req.CompanyID,
		Memo:      req.Memo,
		Lines:     lines,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) || errors.Is(err, model.ErrConcurrencyConflict) {
			response.BusinessError(c, response.CodeConcurrencyConflict, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	if !result.Valid {
		response.ErrorWithData(c, response.CodeValidationFailed, result.Message, result.Violations)
		return
	}

	response.Success(c, result)
}

// VoidEntry 作废分录
// POST /api/v1/ledger/void
func (h *Handler) VoidEntry(c *gin.Context) {
	var req struct {
		RequestID string `json:"request_id" binding:"required"`
		EntryNo   string `json:"entry_no" binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.voidService.Void(c.Request.Context(), &service.VoidRequest{
		RequestID: req.RequestID,
		EntryNo:   req.EntryNo,
		Reason:    req.Reason,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	if !result.Valid {
		response.ErrorWithData(c, response.CodeValidationFailed, result.Message, result.Violations)
		return
	}

	response.Success(c, result)
}

// GetEntry 查询分录详情
// GET /api/v1/ledger/detail?entry_no=xxx
func (h *Handler) GetEntry(c *gin.Context) {
	entryNo := c.Query("entry_no")
	if entryNo == "" {
		response.ParamError(c, "entry_no 参数不能为空")
		return
	}

	entry, err := h.postingService.GetEntry(c.Request.Context(), entryNo)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			response.BusinessError(c, response.CodeEntryNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, entry)
}

// ListEntries 查询公司分录列表
// GET /api/v1/ledger/list?company_id=xxx&page=1&page_size=10
func (h *Handler) ListEntries(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "company_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.postingService.ListEntries(c.Request.Context(), companyID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 恒等式与审计接口
// ============================================================

// CheckEquation 会计恒等式体检
// GET /api/v1/equation/check?company_id=xxx
func (h *Handler) CheckEquation(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "company_id 参数错误")
		return
	}

	result, err := h.accountService.CheckEquation(c.Request.Context(), companyID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// VerifyChain 验证公司审计链
// GET /api/v1/audit/verify?company_id=xxx
func (h *Handler) VerifyChain(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "company_id 参数错误")
		return
	}

	result, err := h.auditService.VerifyChain(c.Request.Context(), companyID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	if !result.Valid {
		// 完整性破坏是运维事件：带明细的硬错误码，调用方不应当作临时错误重试
		response.ErrorWithData(c, response.CodeIntegrityViolation, result.Reason, result)
		return
	}

	response.Success(c, result)
}

// BuildBatch 手动触发默克尔批次构建（后台任务之外的运维入口）
// POST /api/v1/audit/batch
func (h *Handler) BuildBatch(c *gin.Context) {
	var req struct {
		CompanyID int64 `json:"company_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	batch, err := h.auditService.BuildBatch(c.Request.Context(), req.CompanyID)
	if err != nil {
		if errors.Is(err, service.ErrIntegrityViolation) {
			response.BusinessError(c, response.CodeIntegrityViolation, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	if batch == nil {
		response.Success(c, gin.H{"message": "没有待折叠的审计记录"})
		return
	}

	response.Success(c, batch)
}

// ListBatches 查询公司默克尔批次列表
// GET /api/v1/audit/batches?company_id=xxx
func (h *Handler) ListBatches(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "company_id 参数错误")
		return
	}

	batches, err := h.auditService.ListBatches(c.Request.Context(), companyID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  batches,
		"total": len(batches),
	})
}

// GetProof 获取审计记录的包含证明
// GET /api/v1/audit/proof?audit_no=xxx
func (h *Handler) GetProof(c *gin.Context) {
	auditNo := c.Query("audit_no")
	if auditNo == "" {
		response.ParamError(c, "audit_no 参数不能为空")
		return
	}

	proof, err := h.auditService.GetInclusionProof(c.Request.Context(), auditNo)
	if err != nil {
		if errors.Is(err, service.ErrIntegrityViolation) {
			response.BusinessError(c, response.CodeIntegrityViolation, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, proof)
}
