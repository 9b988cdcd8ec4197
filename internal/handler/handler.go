package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"teoledger/internal/model"
	"teoledger/internal/repository"
	"teoledger/internal/service"
	"teoledger/pkg/response"
)

// Handler bundles the service dependencies behind the HTTP surface.
type Handler struct {
	ledgerService     *service.LedgerService
	discountService   *service.DiscountService
	absorptionService *service.AbsorptionService
	withdrawalService *service.WithdrawalService
}

func NewHandler(
	ledgerService *service.LedgerService,
	discountService *service.DiscountService,
	absorptionService *service.AbsorptionService,
	withdrawalService *service.WithdrawalService,
) *Handler {
	return &Handler{
		ledgerService:     ledgerService,
		discountService:   discountService,
		absorptionService: absorptionService,
		withdrawalService: withdrawalService,
	}
}

// writeError maps repository sentinels onto business response codes. Anything
// unmapped is a 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrRequestNotFound),
		errors.Is(err, repository.ErrOpportunityNotFound),
		errors.Is(err, repository.ErrWithdrawalNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrInsufficientBalance):
		response.Conflict(c, response.CodeInsufficientBalance, err.Error(), nil)
	case errors.Is(err, repository.ErrWithdrawalLimitReached):
		response.Conflict(c, response.CodeWithdrawalLimitReached, err.Error(), nil)
	case errors.Is(err, repository.ErrInvalidTransition):
		response.Conflict(c, response.CodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, repository.ErrStaleWrite):
		response.Conflict(c, response.CodeStaleWrite, err.Error(), nil)
	case errors.Is(err, repository.ErrAlreadyResolved):
		response.Conflict(c, response.CodeAlreadyResolved, err.Error(), nil)
	case errors.Is(err, repository.ErrDeadlinePassed):
		response.Conflict(c, response.CodeDeadlinePassed, err.Error(), nil)
	case errors.Is(err, repository.ErrInvalidAmount):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func queryUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid user_id")
		return 0, false
	}
	return userID, true
}

func queryPaging(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// Account endpoints
// ============================================================

// GetAccount returns the balance projection plus the derived staking tier.
// GET /api/v1/account/detail?user_id=xxx
func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	view, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// ListTransactions returns the user's ledger entries, newest first.
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := queryPaging(c)

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Reconcile re-derives the balance from the log and reports any drift.
// GET /api/v1/account/reconcile?user_id=xxx
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	consistent, derived, err := h.ledgerService.Reconcile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":         userID,
		"consistent":      consistent,
		"derived_balance": derived,
	})
}

type StakeRequest struct {
	UserID int64           `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Stake moves available TEO into the staked column.
// POST /api/v1/account/stake
func (h *Handler) Stake(c *gin.Context) {
	var req StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	trans, err := h.ledgerService.Stake(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// Unstake moves staked TEO back to available.
// POST /api/v1/account/unstake
func (h *Handler) Unstake(c *gin.Context) {
	var req StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	trans, err := h.ledgerService.Unstake(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// GetTiers returns the staking bracket table.
// GET /api/v1/account/tiers
func (h *Handler) GetTiers(c *gin.Context) {
	response.Success(c, gin.H{"tiers": h.ledgerService.Tiers()})
}

// ============================================================
// Discount endpoints
// ============================================================

type QuoteRequest struct {
	CoursePriceEur  decimal.Decimal `json:"course_price_eur" binding:"required"`
	DiscountPercent int             `json:"discount_percent" binding:"required"`
}

// Quote prices a discount without creating anything.
// POST /api/v1/discount/quote
func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	quote, err := h.discountService.Quote(req.CoursePriceEur, req.DiscountPercent)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	response.Success(c, quote)
}

type CreateDiscountRequest struct {
	StudentID       int64           `json:"student_id" binding:"required"`
	TeacherID       int64           `json:"teacher_id" binding:"required"`
	CourseID        string          `json:"course_id" binding:"required"`
	CoursePriceEur  decimal.Decimal `json:"course_price_eur" binding:"required"`
	DiscountPercent int             `json:"discount_percent" binding:"required"`
}

// CreateDiscountRequest debits the student's TEO and opens the request.
// POST /api/v1/discount/request
func (h *Handler) CreateDiscountRequest(c *gin.Context) {
	var req CreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	request, err := h.discountService.CreateRequest(c.Request.Context(), service.CreateRequestParams{
		StudentID:       req.StudentID,
		TeacherID:       req.TeacherID,
		CourseID:        req.CourseID,
		CoursePriceEur:  req.CoursePriceEur,
		DiscountPercent: req.DiscountPercent,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, request)
}

// GetDiscountRequest returns one request by number.
// GET /api/v1/discount/detail?request_no=xxx
func (h *Handler) GetDiscountRequest(c *gin.Context) {
	requestNo := c.Query("request_no")
	if requestNo == "" {
		response.ParamError(c, "request_no is required")
		return
	}

	request, err := h.discountService.GetRequest(c.Request.Context(), requestNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, request)
}

// ListDiscountRequests returns a student's requests, newest first.
// GET /api/v1/discount/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListDiscountRequests(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := queryPaging(c)

	requests, total, err := h.discountService.ListRequests(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ConfirmDiscountRequest finalizes the enrollment and opens the teacher's
// absorption opportunity with both payout options frozen.
// POST /api/v1/discount/confirm
func (h *Handler) ConfirmDiscountRequest(c *gin.Context) {
	var req struct {
		RequestNo string `json:"request_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	opportunity, err := h.discountService.ConfirmRequest(c.Request.Context(), req.RequestNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, opportunity)
}

// ============================================================
// Opportunity endpoints
// ============================================================

// GetOpportunity returns one opportunity by number.
// GET /api/v1/opportunity/detail?opportunity_no=xxx
func (h *Handler) GetOpportunity(c *gin.Context) {
	opportunityNo := c.Query("opportunity_no")
	if opportunityNo == "" {
		response.ParamError(c, "opportunity_no is required")
		return
	}

	opportunity, err := h.absorptionService.GetOpportunity(c.Request.Context(), opportunityNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, opportunity)
}

// ListOpportunities returns a teacher's opportunities, optionally filtered
// by status.
// GET /api/v1/opportunity/list?user_id=xxx&status=pending&page=1&page_size=10
func (h *Handler) ListOpportunities(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := queryPaging(c)

	opportunities, total, err := h.absorptionService.ListByTeacher(c.Request.Context(), userID, c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      opportunities,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type ResolveOpportunityRequest struct {
	OpportunityNo string `json:"opportunity_no" binding:"required"`
	TeacherID     int64  `json:"teacher_id" binding:"required"`
	Choice        string `json:"choice" binding:"required,oneof=absorb refuse"`
}

// ResolveOpportunity records the teacher's decision. Racing a concurrent
// resolution or the expiry sweep returns the terminal state with a 409 so
// the client can show what actually happened.
// POST /api/v1/opportunity/resolve
func (h *Handler) ResolveOpportunity(c *gin.Context) {
	var req ResolveOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	existing, err := h.absorptionService.GetOpportunity(c.Request.Context(), req.OpportunityNo)
	if err != nil {
		writeError(c, err)
		return
	}
	if existing.TeacherID != req.TeacherID {
		response.NotFound(c, repository.ErrOpportunityNotFound.Error())
		return
	}

	opportunity, err := h.absorptionService.Resolve(c.Request.Context(), req.OpportunityNo, req.Choice, model.ResolvedByTeacher)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyResolved):
			response.Conflict(c, response.CodeAlreadyResolved, err.Error(), opportunity)
		case errors.Is(err, repository.ErrDeadlinePassed):
			response.Conflict(c, response.CodeDeadlinePassed, err.Error(), opportunity)
		default:
			writeError(c, err)
		}
		return
	}
	response.Success(c, opportunity)
}

// ============================================================
// Withdrawal endpoints
// ============================================================

type CreateWithdrawalRequest struct {
	UserID        int64           `json:"user_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	WalletAddress string          `json:"wallet_address" binding:"required"`
}

// CreateWithdrawal reserves the amount and queues the withdrawal.
// POST /api/v1/withdrawal/create
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalService.Create(c.Request.Context(), req.UserID, req.Amount, req.WalletAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// CancelWithdrawal returns a pending withdrawal's funds to the balance.
// POST /api/v1/withdrawal/cancel
func (h *Handler) CancelWithdrawal(c *gin.Context) {
	var req struct {
		UserID       int64  `json:"user_id" binding:"required"`
		WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalService.Cancel(c.Request.Context(), req.UserID, req.WithdrawalNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// GetWithdrawal returns one withdrawal by number.
// GET /api/v1/withdrawal/detail?withdrawal_no=xxx
func (h *Handler) GetWithdrawal(c *gin.Context) {
	withdrawalNo := c.Query("withdrawal_no")
	if withdrawalNo == "" {
		response.ParamError(c, "withdrawal_no is required")
		return
	}

	withdrawal, err := h.withdrawalService.GetWithdrawal(c.Request.Context(), withdrawalNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// ListWithdrawals returns a user's withdrawals, optionally by status.
// GET /api/v1/withdrawal/list?user_id=xxx&status=pending&page=1&page_size=10
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := queryPaging(c)

	withdrawals, total, err := h.withdrawalService.ListByUser(c.Request.Context(), userID, c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      withdrawals,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Settlement endpoints (chain bridge callbacks)
// ============================================================

type DepositRequest struct {
	UserID int64           `json:"user_id" binding:"required"`
	Role   string          `json:"role" binding:"omitempty,oneof=student teacher"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
	TxHash string          `json:"tx_hash" binding:"required"`
	Remark string          `json:"remark"`
}

// Deposit credits bridged TEO, idempotent on the chain transaction hash.
// POST /api/v1/settlement/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleStudent
	}

	trans, err := h.ledgerService.Deposit(c.Request.Context(), req.UserID, req.Role, req.Amount, req.TxHash, req.Remark)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type RewardRequest struct {
	UserID        int64           `json:"user_id" binding:"required"`
	Role          string          `json:"role" binding:"omitempty,oneof=student teacher"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	RelatedEntity string          `json:"related_entity" binding:"required"`
	Remark        string          `json:"remark"`
}

// Reward mints platform TEO, e.g. for course completions.
// POST /api/v1/settlement/reward
func (h *Handler) Reward(c *gin.Context) {
	var req RewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleStudent
	}

	trans, err := h.ledgerService.Reward(c.Request.Context(), req.UserID, req.Role, req.Amount, req.RelatedEntity, req.Remark)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// MarkWithdrawalProcessing is called when the bridge picks a request up.
// POST /api/v1/settlement/withdrawal/processing
func (h *Handler) MarkWithdrawalProcessing(c *gin.Context) {
	var req struct {
		WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalService.MarkProcessing(c.Request.Context(), req.WithdrawalNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// CompleteWithdrawal records the on-chain transfer.
// POST /api/v1/settlement/withdrawal/complete
func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	var req struct {
		WithdrawalNo string `json:"withdrawal_no" binding:"required"`
		TxHash       string `json:"tx_hash" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalService.Complete(c.Request.Context(), req.WithdrawalNo, req.TxHash)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// FailWithdrawal releases the reservation after a failed transfer.
// POST /api/v1/settlement/withdrawal/fail
func (h *Handler) FailWithdrawal(c *gin.Context) {
	var req struct {
		WithdrawalNo string `json:"withdrawal_no" binding:"required"`
		Reason       string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalService.Fail(c.Request.Context(), req.WithdrawalNo, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}
