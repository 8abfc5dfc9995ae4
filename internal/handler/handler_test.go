package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/infrastructure/database"
	"dairyrun/internal/infrastructure/lock"
	"dairyrun/internal/metrics"
	"dairyrun/internal/model"
	"dairyrun/internal/service"
	"dairyrun/pkg/auth"
	"dairyrun/pkg/bizday"
	"dairyrun/pkg/idgen"
	"dairyrun/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSecret = "test-secret"
	testIssuer = "dairyrun"
	today      = "2026-10-16"
)

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "debug"},
		Auth:   config.AuthConfig{JWTSecret: testSecret, Issuer: testIssuer},
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			SubscriptionEvent: "subscription-event",
			WalletEvent:       "wallet-event",
		}},
		Business: config.BusinessConfig{
			Timezone:            "Asia/Kolkata",
			CycleTimeout:        30 * time.Second,
			LowBalanceThreshold: "50",
		},
	}
	fixedNow := time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)
	cal := bizday.NewInLocation(time.FixedZone("IST", 5*3600+1800), func() time.Time { return fixedNow })
	m := metrics.MustNew(prometheus.NewRegistry())
	dir := service.NewDirectory(db)

	ledger := service.NewLedgerService(db, dir, lock.NewLocalLocker(), cal, m)
	subs := service.NewSubscriptionService(db, cfg, ledger, dir, dir, cal)
	svc := &Services{
		Ledger:        ledger,
		Subscriptions: subs,
		Dispatch:      service.NewDispatchService(db, cfg, ledger, subs, dir, cal, m),
		Sweep:         service.NewSweepService(db, cfg, subs, cal, m),
		Reports:       service.NewReportService(db, cfg, nil, cal),
		Notify:        service.NewNotifyService(db, cfg, cal),
	}
	return &testServer{db: db, router: SetupRouter(svc, cfg)}
}

func (s *testServer) seedUser(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, s.db.Create(&model.User{
		ID:      id,
		Name:    "user",
		Email:   fmt.Sprintf("user%d@example.com", id),
		Address: "12 Lake Road",
		Role:    model.RoleUser,
	}).Error)
}

func (s *testServer) seedProduct(t *testing.T, price string) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:         "Milk",
		PricePerDay:  decimal.RequireFromString(price),
		Quantity:     100,
		Availability: true,
	}
	require.NoError(t, s.db.Create(p).Error)
	return p
}

func (s *testServer) seedSubscription(t *testing.T, userID int64, price string) *model.Subscription {
	t.Helper()
	p := decimal.RequireFromString(price)
	sub := &model.Subscription{
		SubscriptionNo:    idgen.GenerateSubscriptionNo(),
		UserID:            userID,
		ProductID:         1,
		ProductName:       "Milk",
		Quantity:          1,
		PricePerDay:       p,
		TotalCost:         p.Mul(decimal.NewFromInt(30)),
		Status:            model.SubscriptionStatusActive,
		PauseReason:       model.PauseReasonNone,
		DeliveryFrequency: model.FrequencyDaily,
		Plan:              "1_month",
		DurationDays:      30,
		StartDate:         today,
		EndDate:           "2026-11-15",
		NextDeliveryDate:  today,
		PaymentMethod:     model.PaymentMethodWallet,
	}
	require.NoError(t, s.db.Create(sub).Error)
	return sub
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, role, testSecret, testIssuer, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, 1)

	w, env := s.do(t, http.MethodGet, "/api/v1/wallet/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	other, err := auth.GenerateToken(1, model.RoleUser, "wrong-secret", testIssuer, time.Hour)
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodGet, "/api/v1/wallet/balance", other, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/sweep", token(t, 1, model.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)
}

func TestRechargeAndBalance(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, 1)
	s.seedUser(t, 2)
	tok := token(t, 1, model.RoleUser)

	body := gin.H{"amount": "100.50", "request_id": "r-1"}
	w, env := s.do(t, http.MethodPost, "/api/v1/wallet/recharge", tok, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, response.CodeSuccess, env.Code)

	// replay does not credit twice
	w, _ = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", tok, body)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/wallet/balance", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		UserID  int64           `json:"user_id"`
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(1), bal.UserID)
	assert.True(t, bal.Balance.Equal(decimal.RequireFromString("100.5")))

	w, env = s.do(t, http.MethodGet, "/api/v1/wallet/transactions?page=1&page_size=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.TransactionPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	w, env = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", tok, gin.H{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeInvalidAmount, env.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/wallet/balance?user_id=2", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/wallet/balance?user_id=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, 1)
	product := s.seedProduct(t, "60")
	tok := token(t, 1, model.RoleUser)

	_, _ = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", tok, gin.H{"amount": "100"})

	// 15 daily deliveries at 60 cannot be paid from 100
	w, env := s.do(t, http.MethodPost, "/api/v1/subscriptions", tok, gin.H{
		"product_id":         product.ID,
		"quantity":           1,
		"delivery_frequency": model.FrequencyDaily,
		"plan":               "15_days",
		"payment_method":     model.PaymentMethodWallet,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/subscriptions", tok, gin.H{
		"product_id":         product.ID,
		"quantity":           1,
		"delivery_frequency": model.FrequencyDaily,
		"plan":               "15_days",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, model.SubscriptionStatusPendingPayment, sub.Status)
	base := fmt.Sprintf("/api/v1/subscriptions/%d", sub.ID)

	w, env = s.do(t, http.MethodPost, base+"/pay", tok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, env.Code)

	w, env = s.do(t, http.MethodPost, base+"/pay", tok, gin.H{"payment_id": "pay_123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)

	w, env = s.do(t, http.MethodPost, base+"/status", tok, gin.H{"status": model.SubscriptionStatusPaused})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, model.PauseReasonUserPaused, sub.PauseReason)

	w, env = s.do(t, http.MethodPost, base+"/status", tok, gin.H{"status": model.SubscriptionStatusPendingPayment})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeInvalidTransition, env.Code)

	w, _ = s.do(t, http.MethodPost, base+"/status", tok, gin.H{"status": model.SubscriptionStatusActive})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(t, http.MethodGet, base, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Status          string            `json:"status"`
		DeliveryHistory []json.RawMessage `json:"delivery_history"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, model.SubscriptionStatusActive, detail.Status)
	assert.Empty(t, detail.DeliveryHistory)

	w, env = s.do(t, http.MethodGet, base, token(t, 2, model.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/subscriptions/999", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeSubscriptionNotFound, env.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/subscriptions", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		List []model.Subscription `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.List, 1)
}

func TestAdminDispatchDueUsers(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, 1)
	s.seedUser(t, 2)
	adminTok := token(t, 99, model.RoleAdmin)
	_, _ = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", adminTok, gin.H{"user_id": 1, "amount": "100"})
	_, _ = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", adminTok, gin.H{"user_id": 2, "amount": "10"})
	funded := s.seedSubscription(t, 1, "30")
	broke := s.seedSubscription(t, 2, "30")

	w, env := s.do(t, http.MethodGet, "/api/v1/admin/deliveries/due?date="+today, adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var due struct {
		UserIDs []int64 `json:"user_ids"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &due))
	assert.Equal(t, []int64{1, 2}, due.UserIDs)

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/dispatch", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result service.CycleResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.Delivered, 1)
	assert.Equal(t, funded.ID, result.Delivered[0].SubscriptionID)
	require.Len(t, result.Paused, 1)
	assert.Equal(t, broke.ID, result.Paused[0].SubscriptionID)

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/subscriptions/paused?reason=insufficient_balance", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paused struct {
		List []model.Subscription `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &paused))
	require.Len(t, paused.List, 1)
	assert.Equal(t, broke.ID, paused.List[0].ID)

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/wallets/1/audit", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var audit service.AuditResult
	require.NoError(t, json.Unmarshal(env.Data, &audit))
	assert.True(t, audit.Balanced)
	assert.True(t, audit.Balance.Equal(decimal.NewFromInt(70)))

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/dashboard?date="+today, adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats service.DashboardStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.DeliveriesCompleted)

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/dashboard?date=16-10-2026", adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestAdminDispatchUnknownOwner(t *testing.T) {
	s := newTestServer(t)
	s.seedSubscription(t, 5, "30")

	w, env := s.do(t, http.MethodPost, "/api/v1/admin/dispatch", token(t, 99, model.RoleAdmin), gin.H{"user_ids": []int64{5}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeUserNotFound, env.Code)
}

func TestAdminMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, 1)
	adminTok := token(t, 99, model.RoleAdmin)
	_, _ = s.do(t, http.MethodPost, "/api/v1/wallet/recharge", adminTok, gin.H{"user_id": 1, "amount": "20"})
	sub := s.seedSubscription(t, 1, "30")

	w, env := s.do(t, http.MethodPost, "/api/v1/admin/deliveries/missed", adminTok, gin.H{
		"subscription_id": sub.ID,
		"date":            "2026-10-15",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var delivery model.SubscriptionDelivery
	require.NoError(t, json.Unmarshal(env.Data, &delivery))
	assert.Equal(t, model.DeliveryOutcomeMissed, delivery.Outcome)

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/sweep", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var swept struct {
		Paused int `json:"paused"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &swept))
	assert.Equal(t, 1, swept.Paused)

	w, env = s.do(t, http.MethodPost, "/api/v1/admin/notifications/recharge", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sent struct {
		Sent int `json:"sent"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, 1, sent.Sent)
}
