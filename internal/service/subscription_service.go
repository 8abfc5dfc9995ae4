package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dairyrun/internal/config"
	"dairyrun/internal/model"
	"dairyrun/internal/repository"
	"dairyrun/pkg/bizday"
	"dairyrun/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SubscriptionService struct {
	db               *gorm.DB
	cfg              *config.Config
	ledger           *LedgerService
	identity         Identity
	catalog          Catalog
	cal              *bizday.Calendar
	subscriptionRepo *repository.SubscriptionRepository
	deliveryRepo     *repository.DeliveryRepository
	walletRepo       *repository.WalletRepository
	outboxRepo       *repository.OutboxRepository
}

func NewSubscriptionService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, identity Identity, catalog Catalog, cal *bizday.Calendar) *SubscriptionService {
	return &SubscriptionService{
		db:               db,
		cfg:              cfg,
		ledger:           ledger,
		identity:         identity,
		catalog:          catalog,
		cal:              cal,
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		deliveryRepo:     repository.NewDeliveryRepository(db),
		walletRepo:       repository.NewWalletRepository(db),
		outboxRepo:       repository.NewOutboxRepository(db),
	}
}

// SubscriptionEvent is the outbox payload for status changes made by the
// billing side (pauses and expiries).
type SubscriptionEvent struct {
	SubscriptionID int64  `json:"subscription_id"`
	SubscriptionNo string `json:"subscription_no"`
	UserID         int64  `json:"user_id"`
	ProductName    string `json:"product_name"`
	Status         string `json:"status"`
	PauseReason    string `json:"pause_reason"`
	CycleID        string `json:"cycle_id,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

// TransitionTx moves a subscription locked by tx to status to. A pause
// needs a pause reason; any other status clears it. Pauses and expiries
// are announced through the outbox in the same transaction.
func (s *SubscriptionService) TransitionTx(ctx context.Context, tx *gorm.DB, sub *model.Subscription, to, reason, cycleID string) error {
	if to == model.SubscriptionStatusPaused {
		if !model.IsPauseReason(reason) {
			return fmt.Errorf("%w: pause reason %q", repository.ErrInvalidArgument, reason)
		}
	} else {
		reason = model.PauseReasonNone
	}

	if err := s.subscriptionRepo.UpdateStatus(ctx, tx, sub, to, reason, nil); err != nil {
		return err
	}

	var eventType string
	switch to {
	case model.SubscriptionStatusPaused:
		eventType = model.EventSubscriptionPaused
	case model.SubscriptionStatusExpired:
		eventType = model.EventSubscriptionExpired
	default:
		return nil
	}
	event := SubscriptionEvent{
		SubscriptionID: sub.ID,
		SubscriptionNo: sub.SubscriptionNo,
		UserID:         sub.UserID,
		ProductName:    sub.ProductName,
		Status:         sub.Status,
		PauseReason:    sub.PauseReason,
		CycleID:        cycleID,
		OccurredAt:     s.cal.Now().Format(time.RFC3339),
	}
	return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.SubscriptionEvent, eventType, sub.SubscriptionNo, event)
}

// AppendDelivery adds one entry to the delivery history. A delivered entry
// also stamps last_delivered and moves next_delivery_date one frequency
// step past day.
func (s *SubscriptionService) AppendDelivery(ctx context.Context, tx *gorm.DB, sub *model.Subscription, day, outcome, cycleID string) (*model.SubscriptionDelivery, error) {
	now := s.cal.Now()
	delivery := &model.SubscriptionDelivery{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Day:            day,
		Outcome:        outcome,
		CycleID:        cycleID,
		CreatedAt:      now,
	}
	if err := s.deliveryRepo.Create(ctx, tx, delivery); err != nil {
		return nil, err
	}
	if outcome != model.DeliveryOutcomeDelivered {
		return delivery, nil
	}

	step, ok := model.FrequencyStepDays[sub.DeliveryFrequency]
	if !ok {
		step = 1
	}
	next, err := bizday.AddDays(day, step)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}
	if err := s.subscriptionRepo.MarkDelivered(ctx, tx, sub, now, next); err != nil {
		return nil, err
	}
	return delivery, nil
}

// Transition applies a status change requested by a user or an admin.
// Users may pause (always user_paused), resume, or cancel their own
// subscriptions; expiring and resuming an unpaid subscription are left to
// the system and admins. Resuming requires enough balance for one delivery.
func (s *SubscriptionService) Transition(ctx context.Context, actor Actor, subscriptionID int64, to, reason string) (*model.Subscription, error) {
	current, err := s.subscriptionRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(current.UserID) {
		return nil, repository.ErrForbidden
	}

	if to == model.SubscriptionStatusPaused && reason == "" {
		reason = model.PauseReasonUserPaused
	}
	if !actor.IsAdmin() {
		switch {
		case to == model.SubscriptionStatusExpired:
			return nil, repository.ErrForbidden
		case to == model.SubscriptionStatusPaused && reason != model.PauseReasonUserPaused:
			return nil, repository.ErrForbidden
		case to == model.SubscriptionStatusActive && current.Status == model.SubscriptionStatusPendingPayment:
			return nil, repository.ErrInvalidTransition
		}
	}

	var sub *model.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// wallet before subscription, the order dispatch locks them in
		var balance decimal.Decimal
		if to == model.SubscriptionStatusActive {
			wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, current.UserID)
			switch {
			case err == nil:
				balance = wallet.Balance
			case errors.Is(err, repository.ErrWalletNotFound):
			default:
				return err
			}
		}

		sub, err = s.subscriptionRepo.GetByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !model.CanTransitionTo(sub.Status, to) {
			return repository.ErrInvalidTransition
		}
		if to == model.SubscriptionStatusActive && sub.Status == model.SubscriptionStatusPaused &&
			balance.LessThan(sub.PricePerDay) {
			return repository.ErrInsufficientFunds
		}
		return s.TransitionTx(ctx, tx, sub, to, reason, "")
	})
	if err != nil {
		return nil, repository.StoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"pause_reason":    sub.PauseReason,
		"actor":           actor.UserID,
	}).Info("subscription status changed")
	return sub, nil
}

type CreateSubscriptionRequest struct {
	UserID            int64  `json:"user_id"`
	ProductID         int64  `json:"product_id" binding:"required"`
	Quantity          int    `json:"quantity" binding:"required,gt=0"`
	DeliveryFrequency string `json:"delivery_frequency" binding:"required"`
	Plan              string `json:"plan" binding:"required"`
	PaymentMethod     string `json:"payment_method"`
	Address           string `json:"address"`
}

// Create opens a subscription starting tomorrow. Its per-delivery price is
// the product's daily price times the quantity; the total covers
// one delivery per frequency step within the plan. Wallet payment debits the
// total in the same transaction and starts the subscription active, online
// payment leaves it pending_payment until CompletePayment.
func (s *SubscriptionService) Create(ctx context.Context, actor Actor, req *CreateSubscriptionRequest) (*model.Subscription, error) {
	userID := req.UserID
	if userID == 0 {
		userID = actor.UserID
	}
	if !actor.CanAccess(userID) {
		return nil, repository.ErrForbidden
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", repository.ErrInvalidArgument)
	}
	step, ok := model.FrequencyStepDays[req.DeliveryFrequency]
	if !ok {
		return nil, fmt.Errorf("%w: delivery frequency %q", repository.ErrInvalidArgument, req.DeliveryFrequency)
	}
	durationDays, ok := model.PlanDurationDays[req.Plan]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", repository.ErrInvalidArgument, req.Plan)
	}
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = model.PaymentMethodOnline
	}
	if paymentMethod != model.PaymentMethodOnline && paymentMethod != model.PaymentMethodWallet {
		return nil, fmt.Errorf("%w: payment method %q", repository.ErrInvalidArgument, paymentMethod)
	}

	user, err := s.identity.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Availability || product.Quantity < req.Quantity {
		return nil, repository.ErrProductUnavailable
	}
	address := req.Address
	if address == "" {
		address = user.Address
	}
	if address == "" {
		return nil, fmt.Errorf("%w: delivery address required", repository.ErrInvalidArgument)
	}

	dailyCost := product.PricePerDay.Mul(decimal.NewFromInt(int64(req.Quantity)))
	if !dailyCost.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}
	deliveries := model.PlannedDeliveries(durationDays, step)
	totalCost := dailyCost.Mul(decimal.NewFromInt(int64(deliveries)))

	startDate, err := bizday.AddDays(s.cal.Today(), 1)
	if err != nil {
		return nil, err
	}
	endDate, err := bizday.AddDays(startDate, durationDays)
	if err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		SubscriptionNo:    idgen.GenerateSubscriptionNo(),
		UserID:            userID,
		ProductID:         product.ID,
		ProductName:       product.Name,
		Quantity:          req.Quantity,
		PricePerDay:       dailyCost,
		TotalCost:         totalCost,
		Status:            model.SubscriptionStatusPendingPayment,
		PauseReason:       model.PauseReasonNone,
		DeliveryFrequency: req.DeliveryFrequency,
		Plan:              req.Plan,
		DurationDays:      durationDays,
		StartDate:         startDate,
		EndDate:           endDate,
		NextDeliveryDate:  startDate,
		PaymentMethod:     paymentMethod,
		Address:           address,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if paymentMethod != model.PaymentMethodWallet {
			return s.subscriptionRepo.Create(ctx, tx, sub)
		}

		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrWalletNotFound) {
			return repository.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		now := s.cal.Now()
		sub.Status = model.SubscriptionStatusActive
		sub.LastPaymentAt = &now
		if err := s.subscriptionRepo.Create(ctx, tx, sub); err != nil {
			return err
		}
		_, err = s.ledger.DebitTx(ctx, tx, wallet, totalCost, LedgerEntry{
			Reason:         "Subscription payment for " + product.Name,
			SubscriptionID: sub.ID,
		})
		return err
	})
	if err != nil {
		return nil, repository.StoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"subscription_no": sub.SubscriptionNo,
		"user_id":         userID,
		"status":          sub.Status,
		"total_cost":      totalCost.StringFixed(2),
	}).Info("subscription created")
	return sub, nil
}

// CompletePayment activates a pending subscription once the payment
// gateway has confirmed paymentID.
func (s *SubscriptionService) CompletePayment(ctx context.Context, actor Actor, subscriptionID int64, paymentID string) (*model.Subscription, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id required", repository.ErrInvalidArgument)
	}
	var sub *model.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.subscriptionRepo.GetByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(sub.UserID) {
			return repository.ErrForbidden
		}
		if sub.Status != model.SubscriptionStatusPendingPayment {
			return repository.ErrInvalidTransition
		}
		now := s.cal.Now()
		extra := map[string]interface{}{
			"payment_id":      paymentID,
			"last_payment_at": now,
		}
		if err := s.subscriptionRepo.UpdateStatus(ctx, tx, sub, model.SubscriptionStatusActive, model.PauseReasonNone, extra); err != nil {
			return err
		}
		sub.PaymentID = paymentID
		sub.LastPaymentAt = &now
		return nil
	})
	if err != nil {
		return nil, repository.StoreErr(err)
	}
	return sub, nil
}

// SubscriptionDetail is a subscription with its delivery history.
type SubscriptionDetail struct {
	*model.Subscription
	DeliveryHistory []*model.SubscriptionDelivery `json:"delivery_history"`
}

func (s *SubscriptionService) Get(ctx context.Context, actor Actor, subscriptionID int64) (*SubscriptionDetail, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(sub.UserID) {
		return nil, repository.ErrForbidden
	}
	history, err := s.deliveryRepo.ListBySubscriptionID(ctx, nil, sub.ID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionDetail{Subscription: sub, DeliveryHistory: history}, nil
}

func (s *SubscriptionService) ListByUser(ctx context.Context, actor Actor, userID int64) ([]*model.Subscription, error) {
	if !actor.CanAccess(userID) {
		return nil, repository.ErrForbidden
	}
	return s.subscriptionRepo.ListByUserID(ctx, userID)
}

// ListPaused lists paused subscriptions, optionally only those paused for
// reason.
func (s *SubscriptionService) ListPaused(ctx context.Context, actor Actor, reason string, limit int) ([]*model.Subscription, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}
	if reason != "" && !model.IsPauseReason(reason) {
		return nil, fmt.Errorf("%w: pause reason %q", repository.ErrInvalidArgument, reason)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.subscriptionRepo.ListPaused(ctx, reason, limit)
}

// RecordMissed marks a day on which a delivery did not happen. Dispatch
// never writes missed entries; they come from operators.
func (s *SubscriptionService) RecordMissed(ctx context.Context, actor Actor, subscriptionID int64, day string) (*model.SubscriptionDelivery, error) {
	if !actor.IsAdmin() {
		return nil, repository.ErrForbidden
	}
	day, err := s.cal.Parse(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}

	var delivery *model.SubscriptionDelivery
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.GetByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive && sub.Status != model.SubscriptionStatusPaused {
			return fmt.Errorf("%w: subscription is %s", repository.ErrInvalidArgument, sub.Status)
		}
		exists, err := s.deliveryRepo.ExistsForDay(ctx, tx, sub.ID, day)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: delivery for %s already recorded", repository.ErrInvalidArgument, day)
		}
		delivery, err = s.AppendDelivery(ctx, tx, sub, day, model.DeliveryOutcomeMissed, "")
		return err
	})
	if err != nil {
		return nil, repository.StoreErr(err)
	}
	return delivery, nil
}
