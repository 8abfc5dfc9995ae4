package handler

import (
	"strconv"

	"dairyrun/internal/service"
	"dairyrun/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Ledger        *service.LedgerService
	Subscriptions *service.SubscriptionService
	Dispatch      *service.DispatchService
	Sweep         *service.SweepService
	Reports       *service.ReportService
	Notify        *service.NotifyService
}

type Handler struct {
	svc *Services
}

func NewHandler(svc *Services) *Handler {
	return &Handler{svc: svc}
}

// ============================================================
// wallet
// ============================================================

// GetBalance returns the caller's wallet, or ?user_id's for an admin.
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := targetUser(c)
	if !ok {
		return
	}

	wallet, err := h.svc.Ledger.Balance(c.Request.Context(), currentActor(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": wallet.Balance,
	})
}

// ListTransactions pages through the wallet history, newest first.
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := targetUser(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.svc.Ledger.Transactions(c.Request.Context(), currentActor(c), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type RechargeRequest struct {
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	RequestID string          `json:"request_id"`
}

// Recharge credits a wallet. A repeated request_id returns the balance of
// the first request without crediting again.
// POST /api/v1/wallet/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	actor := currentActor(c)
	if req.UserID == 0 {
		req.UserID = actor.UserID
	}

	balance, err := h.svc.Ledger.Credit(c.Request.Context(), actor, req.UserID, req.Amount, service.LedgerEntry{
		Reason:    "Wallet recharge",
		RequestID: req.RequestID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": req.UserID,
		"balance": balance,
	})
}

// ============================================================
// subscriptions
// ============================================================

// CreateSubscription
// POST /api/v1/subscriptions
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req service.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	sub, err := h.svc.Subscriptions.Create(c.Request.Context(), currentActor(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

// ListSubscriptions
// GET /api/v1/subscriptions?user_id=xxx
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID, ok := targetUser(c)
	if !ok {
		return
	}

	subs, err := h.svc.Subscriptions.ListByUser(c.Request.Context(), currentActor(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": subs})
}

// GetSubscription returns the subscription with its delivery history.
// GET /api/v1/subscriptions/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.svc.Subscriptions.Get(c.Request.Context(), currentActor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// UpdateSubscriptionStatus pauses, resumes, cancels or expires.
// POST /api/v1/subscriptions/:id/status
func (h *Handler) UpdateSubscriptionStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	sub, err := h.svc.Subscriptions.Transition(c.Request.Context(), currentActor(c), id, req.Status, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

type CompletePaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

// CompletePayment activates a subscription paid online.
// POST /api/v1/subscriptions/:id/pay
func (h *Handler) CompletePayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	sub, err := h.svc.Subscriptions.CompletePayment(c.Request.Context(), currentActor(c), id, req.PaymentID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

// targetUser reads ?user_id, defaulting to the caller. Access is checked by
// the service.
func targetUser(c *gin.Context) (int64, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		return currentActor(c).UserID, true
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id must be a positive integer")
		return 0, false
	}
	return userID, true
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
