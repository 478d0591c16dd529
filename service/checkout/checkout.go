package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/service/fulfillment"
	"github.com/agendali/booking-server/service/gateway"
	"github.com/agendali/booking-server/service/ledger"
	"github.com/agendali/booking-server/service/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// State is what the checkout page sees. Form entry and its validation
// errors live client-side; a session only exists once a submission passes
// validation.
type State string

const (
	StateProcessing           State = "processing"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateApproved             State = "approved"
	StateRejected             State = "rejected"
	StateBlocked              State = "blocked"
	StateFulfilled            State = "fulfilled"
)

// terminal reports whether a session state can never change again.
func (s State) terminal() bool {
	return s == StateRejected || s == StateBlocked || s == StateFulfilled
}

var (
	// ErrSlotHeld means another customer is mid-payment for the same slot.
	ErrSlotHeld = errors.New("checkout: slot temporarily held by another checkout")
)

// Fulfiller runs the post-approval pipeline.
type Fulfiller interface {
	Fulfill(ctx context.Context, tx *models.Transaction, svc *models.Service, prof *models.Professional) (*fulfillment.Outcome, error)
}

// Publisher pushes session state transitions to subscribed checkout pages.
type Publisher interface {
	Publish(sessionID string, event interface{})
}

// BeginRequest is a validated checkout submission.
type BeginRequest struct {
	ProfessionalID uint   `json:"professional_id"`
	ServiceID      uint   `json:"service_id"`
	Date           string `json:"date"` // 2006-01-02
	Time           string `json:"time"` // 15:04

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	CustomerTaxID string `json:"customer_tax_id"`

	Method string       `json:"method"`
	Card   gateway.Card `json:"card"`
}

// Session is one customer's live checkout.
type Session struct {
	ID            string
	TransactionID uint

	mu           sync.Mutex
	state        State
	errMessage   string
	pix          *gateway.PixCharge
	pollAttempts int
	cancel       context.CancelFunc
	terminalAt   time.Time
}

// Snapshot is the session view exposed to the UI layer.
type Snapshot struct {
	ID            string             `json:"id"`
	State         State              `json:"state"`
	Error         string             `json:"error,omitempty"`
	TransactionID uint               `json:"transaction_id,omitempty"`
	Pix           *gateway.PixCharge `json:"pix,omitempty"`
	PollAttempts  int                `json:"poll_attempts"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		State:         s.state,
		Error:         s.errMessage,
		TransactionID: s.TransactionID,
		Pix:           s.pix,
		PollAttempts:  s.pollAttempts,
	}
}

// Controller owns the checkout state machine: validation, the demo guard,
// the ledger write, the gateway call and the PIX poll loop.
type Controller struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	gateways  gateway.Selector
	fulfiller Fulfiller
	publisher Publisher

	pollInterval    time.Duration
	maxPollAttempts int
	holdTTL         time.Duration
	sessionTTL      time.Duration

	mu            sync.RWMutex
	sessions      map[string]*Session
	byTransaction map[uint]*Session
	lastSweep     time.Time
}

func NewController(db *gorm.DB, gateways gateway.Selector, fulfiller Fulfiller, publisher Publisher) *Controller {
	return &Controller{
		db:              db,
		ledger:          ledger.NewLedger(db),
		gateways:        gateways,
		fulfiller:       fulfiller,
		publisher:       publisher,
		pollInterval:    5 * time.Second,
		maxPollAttempts: 60,
		holdTTL:         15 * time.Minute,
		sessionTTL:      30 * time.Minute,
		sessions:        make(map[string]*Session),
		byTransaction:   make(map[uint]*Session),
		lastSweep:       time.Now(),
	}
}

// SetPolling overrides the poll cadence (configuration and tests).
func (c *Controller) SetPolling(interval time.Duration, maxAttempts int) {
	c.pollInterval = interval
	c.maxPollAttempts = maxAttempts
}

// SetHoldTTL overrides how long a slot hold outlives its creation.
func (c *Controller) SetHoldTTL(ttl time.Duration) {
	c.holdTTL = ttl
}

// Begin takes a checkout submission through validation, the demo guard,
// the ledger write and the charge, and returns the resulting session.
func (c *Controller) Begin(ctx context.Context, req *BeginRequest) (Snapshot, error) {
	var prof models.Professional
	if err := c.db.First(&prof, req.ProfessionalID).Error; err != nil {
		return Snapshot{}, fmt.Errorf("checkout: professional not found: %w", err)
	}

	var svc models.Service
	if err := c.db.Where("id = ? AND professional_id = ?", req.ServiceID, req.ProfessionalID).
		First(&svc).Error; err != nil {
		return Snapshot{}, fmt.Errorf("checkout: service not found: %w", err)
	}

	scheduledAt, err := time.Parse("2006-01-02 15:04", req.Date+" "+req.Time)
	if err != nil {
		return Snapshot{}, &ValidationError{Field: "date", Message: "invalid date or time"}
	}

	if err := validateForm(req, &prof); err != nil {
		return Snapshot{}, err
	}

	metrics.CheckoutsStarted.Inc()

	// Demo guard: before any ledger write or gateway contact. Demo traffic
	// must never pollute financial records.
	if prof.Demo {
		sess := c.newSession(0, StateBlocked)
		log.Info().Str("session_id", sess.ID).Uint("professional_id", prof.ID).
			Msg("checkout blocked for demo profile")
		metrics.CheckoutsTerminal.WithLabelValues(string(StateBlocked)).Inc()
		return sess.snapshot(), nil
	}

	gw, err := c.gateways.ForProfessional(&prof)
	if err != nil {
		return Snapshot{}, err
	}

	tx := &models.Transaction{
		ProfessionalID: prof.ID,
		ServiceID:      svc.ID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerPhone:  req.CustomerPhone,
		CustomerTaxID:  req.CustomerTaxID,
		AmountCents:    svc.PriceCents,
		Method:         req.Method,
		Gateway:        string(gw.Name()),
		ScheduledAt:    scheduledAt,
	}

	// Ledger write strictly precedes the gateway call; a charge failure
	// must still leave an auditable pending record.
	if err := c.ledger.Create(tx); err != nil {
		return Snapshot{}, err
	}

	sess := c.newSession(tx.ID, StateProcessing)

	if err := c.acquireSlotHold(prof.ID, scheduledAt, sess.ID, tx.ID); err != nil {
		c.dropSession(sess.ID)
		return Snapshot{}, err
	}

	chargeReq := gateway.ChargeRequest{
		AmountCents: svc.PriceCents,
		Description: fmt.Sprintf("%s — %s", svc.Name, prof.FullName),
		Reference:   fmt.Sprintf("tx-%d", tx.ID),
		Payer: gateway.Payer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			TaxID: req.CustomerTaxID,
		},
	}

	switch req.Method {
	case models.MethodPix:
		return c.beginPix(ctx, sess, gw, chargeReq, tx, &svc, &prof)
	case models.MethodCreditCard:
		return c.beginCard(ctx, sess, gw, chargeReq, req.Card, tx, &svc, &prof)
	default:
		// validateForm already rejected anything else
		return Snapshot{}, &ValidationError{Field: "method", Message: "unsupported payment method"}
	}
}

func (c *Controller) beginPix(ctx context.Context, sess *Session, gw gateway.PaymentGateway, chargeReq gateway.ChargeRequest, tx *models.Transaction, svc *models.Service, prof *models.Professional) (Snapshot, error) {
	pix, err := gw.CreatePixCharge(ctx, chargeReq)
	if err != nil {
		// Transaction stays pending in the ledger; the user retries with a
		// fresh transaction, never by reusing this one.
		c.releaseSlotHold(sess.ID)
		c.dropSession(sess.ID)
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("pix charge creation failed")
		return Snapshot{}, err
	}

	if err := c.ledger.SetGatewayPayment(tx.ID, pix.PaymentID, pix.QRImage, pix.QRCopyPaste); err != nil {
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("saving gateway payment id")
	}
	tx.GatewayPaymentID = pix.PaymentID

	sess.mu.Lock()
	sess.pix = pix
	sess.mu.Unlock()
	c.setState(sess, StateAwaitingConfirmation, "")

	pollCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	sess.cancel = cancel
	sess.mu.Unlock()

	go c.pollPayment(pollCtx, sess, gw, tx, svc, prof)

	return sess.snapshot(), nil
}

func (c *Controller) beginCard(ctx context.Context, sess *Session, gw gateway.PaymentGateway, chargeReq gateway.ChargeRequest, card gateway.Card, tx *models.Transaction, svc *models.Service, prof *models.Professional) (Snapshot, error) {
	charge, err := gw.CreateCardCharge(ctx, chargeReq, card)
	if err != nil {
		c.releaseSlotHold(sess.ID)
		c.dropSession(sess.ID)
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("card charge creation failed")
		return Snapshot{}, err
	}

	if err := c.ledger.SetGatewayPayment(tx.ID, charge.PaymentID, "", ""); err != nil {
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("saving gateway payment id")
	}
	tx.GatewayPaymentID = charge.PaymentID

	if !charge.Approved {
		if _, err := c.ledger.MarkRejected(tx.ID); err != nil {
			log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("marking card charge rejected")
		}
		c.releaseSlotHold(sess.ID)
		c.setState(sess, StateRejected, "payment was declined")
		return sess.snapshot(), nil
	}

	// Card charges settle synchronously: no poll loop.
	c.finishApproved(ctx, sess, tx, svc, prof)
	return sess.snapshot(), nil
}

// pollPayment is the PIX confirmation loop: fixed interval, hard attempt
// cap, transient errors consume an attempt and keep going.
func (c *Controller) pollPayment(ctx context.Context, sess *Session, gw gateway.PaymentGateway, tx *models.Transaction, svc *models.Service, prof *models.Professional) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			// The customer closed the checkout. Never interpreted as payment
			// cancellation: the webhook path still lands ledger updates.
			return
		case <-ticker.C:
		}

		metrics.PollAttempts.Inc()
		sess.mu.Lock()
		sess.pollAttempts = attempt
		sess.mu.Unlock()

		status, err := gw.CheckStatus(ctx, tx.GatewayPaymentID)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Uint("transaction_id", tx.ID).
				Msg("status poll failed, continuing")
			continue
		}

		switch status {
		case gateway.StatusApproved:
			c.finishApproved(ctx, sess, tx, svc, prof)
			return
		case gateway.StatusRejected, gateway.StatusCancelled, gateway.StatusFailed:
			if _, err := c.ledger.MarkRejected(tx.ID); err != nil {
				log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("marking transaction rejected")
			}
			c.releaseSlotHold(sess.ID)
			c.setState(sess, StateRejected, "payment was "+string(status))
			return
		}
	}

	// Attempts exhausted without a terminal status. The ledger stays
	// pending: the charge may still settle out-of-band and reconciliation
	// happens via webhook.
	log.Warn().Uint("transaction_id", tx.ID).Int("attempts", c.maxPollAttempts).
		Msg("poll budget exhausted, payment not confirmed")
	c.releaseSlotHold(sess.ID)
	c.setState(sess, StateRejected, "payment not confirmed in time")
}

// finishApproved performs the pending->approved transition and, when this
// caller wins it, runs fulfillment exactly once.
func (c *Controller) finishApproved(ctx context.Context, sess *Session, tx *models.Transaction, svc *models.Service, prof *models.Professional) {
	changed, err := c.ledger.MarkApproved(tx.ID)
	if err != nil {
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("marking transaction approved")
		c.setState(sess, StateRejected, "payment state conflict")
		return
	}
	if !changed {
		// The webhook got here first and owns fulfillment, including the
		// session's remaining state transitions.
		return
	}
	c.setState(sess, StateApproved, "")

	outcome, err := c.fulfiller.Fulfill(ctx, tx, svc, prof)
	if err != nil {
		// Payment captured, booking missing. Surfaced loudly, never hidden.
		c.setState(sess, StateApproved, "payment approved but booking creation failed, support has been notified")
		return
	}
	if outcome.Degraded() {
		log.Warn().Uint("transaction_id", tx.ID).Msg("booking fulfilled with degraded side effects")
	}
	c.setState(sess, StateFulfilled, "")
}

// Get returns the session snapshot for the status endpoint.
func (c *Controller) Get(sessionID string) (Snapshot, bool) {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Cancel stops a session's poll loop. Money that already moved is
// unaffected; the webhook remains the reconciliation path.
func (c *Controller) Cancel(sessionID string) bool {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	cancel := sess.cancel
	sess.cancel = nil
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.releaseSlotHold(sessionID)
	return true
}

// SessionForTransaction lets the webhook path reflect a ledger update on a
// live session, when one still exists.
func (c *Controller) SessionForTransaction(transactionID uint) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, ok := c.byTransaction[transactionID]
	return sess, ok
}

func (c *Controller) newSession(transactionID uint, state State) *Session {
	c.sweepSessions()

	sess := &Session{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		state:         state,
	}
	if state.terminal() {
		sess.terminalAt = time.Now()
	}
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	if transactionID != 0 {
		c.byTransaction[transactionID] = sess
	}
	c.mu.Unlock()
	return sess
}

func (c *Controller) dropSession(sessionID string) {
	c.mu.Lock()
	if sess, ok := c.sessions[sessionID]; ok {
		delete(c.sessions, sessionID)
		delete(c.byTransaction, sess.TransactionID)
	}
	c.mu.Unlock()
}

// sweepSessions evicts sessions that have been terminal for longer than the
// retention window, so finished checkouts do not accumulate forever. Runs at
// most once a minute, piggybacked on session creation.
func (c *Controller) sweepSessions() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) < time.Minute {
		return
	}
	c.lastSweep = now

	for id, sess := range c.sessions {
		sess.mu.Lock()
		expired := !sess.terminalAt.IsZero() && now.Sub(sess.terminalAt) > c.sessionTTL
		sess.mu.Unlock()
		if expired {
			delete(c.sessions, id)
			delete(c.byTransaction, sess.TransactionID)
		}
	}
}

func (c *Controller) setState(sess *Session, state State, errMessage string) {
	sess.mu.Lock()
	// Terminal states never change; a late poller tick or a duplicate
	// webhook delivery must not knock a finished session back.
	if sess.state.terminal() {
		sess.mu.Unlock()
		return
	}
	sess.state = state
	sess.errMessage = errMessage
	if state.terminal() && sess.terminalAt.IsZero() {
		sess.terminalAt = time.Now()
	}
	snap := Snapshot{
		ID:            sess.ID,
		State:         state,
		Error:         errMessage,
		TransactionID: sess.TransactionID,
		Pix:           sess.pix,
		PollAttempts:  sess.pollAttempts,
	}
	sess.mu.Unlock()

	switch state {
	case StateRejected, StateFulfilled, StateBlocked:
		metrics.CheckoutsTerminal.WithLabelValues(string(state)).Inc()
	}

	if c.publisher != nil {
		c.publisher.Publish(sess.ID, snap)
	}
}

// acquireSlotHold reserves the professional+slot pair for the payment
// window. Expired holds are swept lazily so an abandoned checkout frees
// the slot on its own.
func (c *Controller) acquireSlotHold(professionalID uint, scheduledAt time.Time, sessionID string, transactionID uint) error {
	c.db.Where("expires_at < ?", time.Now()).Delete(&models.SlotHold{})

	var existing models.SlotHold
	err := c.db.Where("professional_id = ? AND scheduled_at = ?", professionalID, scheduledAt).
		First(&existing).Error
	if err == nil {
		return ErrSlotHeld
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checkout: checking slot hold: %w", err)
	}

	hold := models.SlotHold{
		ProfessionalID: professionalID,
		ScheduledAt:    scheduledAt,
		SessionID:      sessionID,
		TransactionID:  transactionID,
		ExpiresAt:      time.Now().Add(c.holdTTL),
	}
	if err := c.db.Create(&hold).Error; err != nil {
		// The unique index is the backstop for the check-then-create race.
		return ErrSlotHeld
	}
	return nil
}

func (c *Controller) releaseSlotHold(sessionID string) {
	if err := c.db.Where("session_id = ?", sessionID).Delete(&models.SlotHold{}).Error; err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("releasing slot hold")
	}
}
