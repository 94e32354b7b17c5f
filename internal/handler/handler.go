package handler

import (
	"errors"
	"net/http"
	"strings"

	"ledgersystem/internal/model"
	"ledgersystem/internal/service"
	"ledgersystem/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services 处理器依赖的服务
type Services struct {
	Accounts    *service.AccountService
	Journals    *service.JournalService
	Reversals   *service.ReversalService
	Periods     *service.PeriodService
	Revaluation *service.RevaluationService
	YearEnd     *service.YearEndCloseService
	Integrity   *service.IntegrityService
	Chain       *service.HashChainService
}

// Handler 统一处理器，只做 DTO 映射和错误翻译
type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// ============================================================
// 凭证
// ============================================================

// CreateJournalEntry 记账
// POST /api/v1/journal-entries
func (h *Handler) CreateJournalEntry(c *gin.Context) {
	var req service.CreateJournalEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.Journals.CreateJournalEntry(c.Request.Context(), tenantID(c), &req, actorRole(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, resp)
}

type batchRequest struct {
	Entries []*service.CreateJournalEntryRequest `json:"entries" binding:"required,min=1,dive"`
}

type batchFailure struct {
	Posted      []*service.JournalEntryResponse `json:"posted"`
	FailedIndex int                             `json:"failed_index"`
	EventID     string                          `json:"event_id"`
	Code        string                          `json:"code"`
}

// CreateJournalEntriesBatch 批量记账，中途失败时返回已提交的凭证
// POST /api/v1/journal-entries/batch
func (h *Handler) CreateJournalEntriesBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	results, err := h.svc.Journals.CreateJournalEntriesBatch(c.Request.Context(), tenantID(c), req.Entries, actorRole(c))
	var batchErr *service.BatchError
	if errors.As(err, &batchErr) {
		status, code := statusOf(batchErr.Err)
		response.ErrorWithData(c, status, response.CodeBatchIncomplete, batchErr.Error(), batchFailure{
			Posted:      results,
			FailedIndex: batchErr.Index,
			EventID:     batchErr.EventID,
			Code:        code,
		})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, gin.H{"items": results})
}

// GetJournalEntry 凭证详情
// GET /api/v1/journal-entries/:id
func (h *Handler) GetJournalEntry(c *gin.Context) {
	resp, err := h.svc.Journals.GetJournalEntry(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// ListJournalEntries 凭证列表
// GET /api/v1/journal-entries?posted_from=&posted_to=&account_code=&status=&offset=&limit=
func (h *Handler) ListJournalEntries(c *gin.Context) {
	var q service.ListJournalEntriesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.Journals.ListJournalEntries(c.Request.Context(), tenantID(c), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// ReverseJournalEntry 冲销
// POST /api/v1/journal-entries/:id/reverse
func (h *Handler) ReverseJournalEntry(c *gin.Context) {
	var req service.ReverseJournalEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.Reversals.Reverse(c.Request.Context(), tenantID(c), c.Param("id"), &req, actorRole(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, resp)
}

// CorrectJournalEntry 冲销并重新记账
// POST /api/v1/journal-entries/:id/correct
func (h *Handler) CorrectJournalEntry(c *gin.Context) {
	var req service.CorrectJournalEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.Reversals.Correct(c.Request.Context(), tenantID(c), c.Param("id"), &req, actorRole(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, resp)
}

// ============================================================
// 科目
// ============================================================

// CreateAccount 新建科目
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.svc.Accounts.CreateAccount(c.Request.Context(), tenantID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, account)
}

// GetAccount 科目详情与当前余额
// GET /api/v1/accounts/:code
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.svc.Accounts.GetAccount(c.Request.Context(), tenantID(c), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, account)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetAccountActive 启用或停用科目
// PATCH /api/v1/accounts/:code/active
func (h *Handler) SetAccountActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.svc.Accounts.SetActive(c.Request.Context(), tenantID(c), c.Param("code"), *req.Active)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, account)
}

// ============================================================
// 会计期间
// ============================================================

type createPeriodRequest struct {
	Name      string `json:"name" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// CreatePeriod 新建期间，初始状态 OPEN
// POST /api/v1/periods
func (h *Handler) CreatePeriod(c *gin.Context) {
	var req createPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		response.ParamError(c, "start_date 格式应为 2006-01-02")
		return
	}
	end, err := model.ParseDate(req.EndDate)
	if err != nil {
		response.ParamError(c, "end_date 格式应为 2006-01-02")
		return
	}

	period, err := h.svc.Periods.CreatePeriod(c.Request.Context(), tenantID(c), service.CreatePeriodRequest{
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, period)
}

// ListPeriods 期间列表，可按状态过滤
// GET /api/v1/periods?status=OPEN
func (h *Handler) ListPeriods(c *gin.Context) {
	status := model.PeriodStatus(strings.ToUpper(c.Query("status")))
	if status != "" && !status.Valid() {
		response.ParamError(c, "status 取值应为 OPEN / SOFT_CLOSED / HARD_CLOSED")
		return
	}

	periods, err := h.svc.Periods.ListPeriods(c.Request.Context(), tenantID(c), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"items": periods})
}

type changePeriodStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// ChangePeriodStatus 期间状态流转
// PATCH /api/v1/periods/:id/status
func (h *Handler) ChangePeriodStatus(c *gin.Context) {
	var req changePeriodStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	target := model.PeriodStatus(strings.ToUpper(req.Status))
	if !target.Valid() {
		response.ParamError(c, "status 取值应为 OPEN / SOFT_CLOSED / HARD_CLOSED")
		return
	}

	period, err := h.svc.Periods.ChangeStatus(c.Request.Context(), tenantID(c), c.Param("id"), target, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, period)
}

type revaluationRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// RunRevaluation 手工触发期末重估
// POST /api/v1/periods/:id/revaluation
func (h *Handler) RunRevaluation(c *gin.Context) {
	var req revaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.Revaluation.RunForPeriod(c.Request.Context(), tenantID(c), c.Param("id"), req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, resp)
}

// YearEndClose 年结
// POST /api/v1/year-end-close
func (h *Handler) YearEndClose(c *gin.Context) {
	var req service.YearEndCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.svc.YearEnd.Close(c.Request.Context(), tenantID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// ============================================================
// 一致性校验
// ============================================================

// CheckIntegrity 当前租户的会计恒等式与哈希链
// GET /api/v1/admin/integrity
func (h *Handler) CheckIntegrity(c *gin.Context) {
	report, err := h.svc.Integrity.CheckTenant(c.Request.Context(), tenantID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}

// VerifyChain 只校验哈希链
// GET /api/v1/admin/chain
func (h *Handler) VerifyChain(c *gin.Context) {
	result, err := h.svc.Chain.Verify(c.Request.Context(), tenantID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// writeError 领域错误转 HTTP 状态码与业务码，未识别的错误不向调用方暴露细节
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	_ = c.Error(err)
	if status == http.StatusInternalServerError {
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
		return
	}
	response.Error(c, status, code, err.Error())
}

func statusOf(err error) (int, string) {
	code := service.ErrorCode(err)
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, code
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrJournalEntryNotFound),
		errors.Is(err, service.ErrPeriodNotFound):
		return http.StatusNotFound, code
	case errors.Is(err, service.ErrUnbalancedEntry),
		errors.Is(err, service.ErrInactiveAccount),
		errors.Is(err, service.ErrAccountCurrencyMismatch),
		errors.Is(err, service.ErrAccountingPeriodNotFound),
		errors.Is(err, service.ErrInvalidReversal):
		return http.StatusUnprocessableEntity, code
	case errors.Is(err, service.ErrPeriodClosed),
		errors.Is(err, service.ErrInvalidPeriodTransition),
		errors.Is(err, service.ErrOverlappingAccountingPeriod),
		errors.Is(err, service.ErrDuplicateIdempotencyKey),
		errors.Is(err, service.ErrDuplicateAccount),
		errors.Is(err, service.ErrRequestInProgress),
		errors.Is(err, service.ErrRevaluationAlreadyRun),
		errors.Is(err, service.ErrYearEndClose):
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, code
	}
}
