package handler

import (
	"strconv"

	"dairyrun/pkg/response"

	"github.com/gin-gonic/gin"
)

type RunDispatchRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// RunDispatch runs one delivery cycle. Without user_ids it dispatches every
// owner with a delivery due today.
// POST /api/v1/admin/dispatch
func (h *Handler) RunDispatch(c *gin.Context) {
	var req RunDispatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "invalid request: "+err.Error())
			return
		}
	}
	ctx := c.Request.Context()
	actor := currentActor(c)

	userIDs := req.UserIDs
	if len(userIDs) == 0 {
		due, err := h.svc.Dispatch.DueUserIDs(ctx, actor, "")
		if err != nil {
			writeError(c, err)
			return
		}
		userIDs = due
	}

	result, err := h.svc.Dispatch.RunCycle(ctx, actor, userIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RunSweep
// POST /api/v1/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	paused, err := h.svc.Sweep.SweepInsufficientBalance(c.Request.Context(), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"paused": paused})
}

// Dashboard
// GET /api/v1/admin/dashboard?date=2026-10-16
func (h *Handler) Dashboard(c *gin.Context) {
	stats, err := h.svc.Reports.DashboardStats(c.Request.Context(), currentActor(c), c.Query("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// ListPausedSubscriptions
// GET /api/v1/admin/subscriptions/paused?reason=insufficient_balance&limit=100
func (h *Handler) ListPausedSubscriptions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	subs, err := h.svc.Subscriptions.ListPaused(c.Request.Context(), currentActor(c), c.Query("reason"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": subs})
}

// DueDeliveries lists the owners still owed a delivery on date.
// GET /api/v1/admin/deliveries/due?date=2026-10-16
func (h *Handler) DueDeliveries(c *gin.Context) {
	userIDs, err := h.svc.Dispatch.DueUserIDs(c.Request.Context(), currentActor(c), c.Query("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"user_ids": userIDs})
}

type RecordMissedRequest struct {
	SubscriptionID int64  `json:"subscription_id" binding:"required"`
	Date           string `json:"date"`
}

// RecordMissed
// POST /api/v1/admin/deliveries/missed
func (h *Handler) RecordMissed(c *gin.Context) {
	var req RecordMissedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	delivery, err := h.svc.Subscriptions.RecordMissed(c.Request.Context(), currentActor(c), req.SubscriptionID, req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, delivery)
}

// SendRechargeReminders
// POST /api/v1/admin/notifications/recharge
func (h *Handler) SendRechargeReminders(c *gin.Context) {
	sent, err := h.svc.Notify.SendRechargeReminders(c.Request.Context(), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"sent": sent})
}

// AuditWallet recomputes a balance from its transactions.
// GET /api/v1/admin/wallets/:user_id/audit
func (h *Handler) AuditWallet(c *gin.Context) {
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}

	audit, err := h.svc.Ledger.Audit(c.Request.Context(), currentActor(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, audit)
}
