package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/service/fulfillment"
	"github.com/agendali/booking-server/service/gateway"
	"github.com/agendali/booking-server/service/notify"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubCalendar struct{}

func (stubCalendar) SyncAppointment(ctx context.Context, professionalID, appointmentID uint) (string, error) {
	return "", nil
}

type stubNotifier struct{}

func (stubNotifier) SendBookingConfirmation(ctx context.Context, b notify.Booking) error {
	return nil
}

type testEnv struct {
	db         *gorm.DB
	controller *Controller
	sim        *gateway.Simulated
	prof       models.Professional
	svc        models.Service
}

func setupEnv(t *testing.T, approveAfter time.Duration) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Professional{}, &models.Service{}, &models.Transaction{},
		&models.Appointment{}, &models.AccessToken{}, &models.SlotHold{},
	); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	prof := models.Professional{FullName: "Dra. Carla Mendes", Email: "carla@example.com"}
	if err := db.Create(&prof).Error; err != nil {
		t.Fatalf("creating professional: %v", err)
	}
	svc := models.Service{ProfessionalID: prof.ID, Name: "Consulta", PriceCents: 15000, DurationMin: 50, SessionType: "online"}
	if err := db.Create(&svc).Error; err != nil {
		t.Fatalf("creating service: %v", err)
	}

	orch := fulfillment.NewOrchestrator(db, stubCalendar{}, stubNotifier{}, "https://sala.example.com")
	sim := gateway.NewSimulated(approveAfter)
	sel := gateway.Selector{
		MercadoPago: gateway.NewMercadoPago("http://mercadopago.invalid"),
		Simulated:   sim,
	}

	controller := NewController(db, sel, orch, nil)
	controller.SetPolling(2*time.Millisecond, 60)
	controller.SetHoldTTL(time.Minute)

	return &testEnv{db: db, controller: controller, sim: sim, prof: prof, svc: svc}
}

func (e *testEnv) beginRequest(method string) *BeginRequest {
	return &BeginRequest{
		ProfessionalID: e.prof.ID,
		ServiceID:      e.svc.ID,
		Date:           "2026-09-10",
		Time:           "14:00",
		CustomerName:   "Ana Souza",
		CustomerEmail:  "ana@example.com",
		Method:         method,
	}
}

func waitForState(t *testing.T, c *Controller, sessionID string, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := c.Get(sessionID)
		if !ok {
			t.Fatalf("session %s disappeared", sessionID)
		}
		if snap.State == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := c.Get(sessionID)
	t.Fatalf("session never reached %s, stuck at %s (%s)", want, snap.State, snap.Error)
	return Snapshot{}
}

func (e *testEnv) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	return n
}

func TestDemoCheckoutBlocked(t *testing.T) {
	env := setupEnv(t, 0)
	env.db.Model(&env.prof).Update("demo", true)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if snap.State != StateBlocked {
		t.Errorf("state = %s, want blocked", snap.State)
	}

	// Demo traffic must leave zero financial footprint.
	if n := env.countRows(t, &models.Transaction{}); n != 0 {
		t.Errorf("transactions = %d, want 0", n)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
}

func TestValidationFailureCreatesNothing(t *testing.T) {
	env := setupEnv(t, 0)

	req := env.beginRequest(models.MethodPix)
	req.CustomerEmail = "not-an-email"

	_, err := env.controller.Begin(context.Background(), req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n := env.countRows(t, &models.Transaction{}); n != 0 {
		t.Errorf("transactions = %d, want 0", n)
	}
}

func TestPixCheckoutFulfilled(t *testing.T) {
	env := setupEnv(t, 0) // simulated gateway approves on first poll

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if snap.State != StateAwaitingConfirmation {
		t.Fatalf("state = %s, want awaiting_confirmation", snap.State)
	}
	if snap.Pix == nil || snap.Pix.QRCopyPaste == "" {
		t.Fatal("pix payload missing from snapshot")
	}

	final := waitForState(t, env.controller, snap.ID, StateFulfilled)
	if final.TransactionID == 0 {
		t.Error("snapshot missing transaction id")
	}

	var tx models.Transaction
	if err := env.db.First(&tx, final.TransactionID).Error; err != nil {
		t.Fatalf("loading transaction: %v", err)
	}
	if tx.PaymentStatus != models.PaymentApproved {
		t.Errorf("transaction status = %s, want approved", tx.PaymentStatus)
	}
	if tx.GatewayPaymentID == "" || tx.PixCopyPaste == "" {
		t.Error("gateway payment details not persisted")
	}

	if n := env.countRows(t, &models.Appointment{}); n != 1 {
		t.Errorf("appointments = %d, want 1", n)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
}

func TestPixPollBudgetExhausted(t *testing.T) {
	env := setupEnv(t, time.Hour) // never approves within the test
	env.controller.SetPolling(time.Millisecond, 5)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	final := waitForState(t, env.controller, snap.ID, StateRejected)
	if final.Error != "payment not confirmed in time" {
		t.Errorf("error = %q", final.Error)
	}
	if final.PollAttempts != 5 {
		t.Errorf("poll attempts = %d, want 5", final.PollAttempts)
	}

	// The ledger is never rejected by a UI timeout: the charge may still
	// settle and arrive via webhook.
	var tx models.Transaction
	env.db.First(&tx, final.TransactionID)
	if tx.PaymentStatus != models.PaymentPending {
		t.Errorf("transaction status = %s, want pending", tx.PaymentStatus)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
}

func TestPixRejectedDuringPoll(t *testing.T) {
	env := setupEnv(t, time.Hour)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	var tx models.Transaction
	env.db.First(&tx, snap.TransactionID)
	env.sim.Reject(tx.GatewayPaymentID)

	final := waitForState(t, env.controller, snap.ID, StateRejected)
	if final.Error == "" {
		t.Error("rejected session should carry an error message")
	}

	env.db.First(&tx, snap.TransactionID)
	if tx.PaymentStatus != models.PaymentRejected {
		t.Errorf("transaction status = %s, want rejected", tx.PaymentStatus)
	}
	if n := env.countRows(t, &models.Appointment{}); n != 0 {
		t.Errorf("appointments = %d, want 0", n)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
}

func TestFulfillmentFailureSurfaced(t *testing.T) {
	env := setupEnv(t, time.Hour)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// The page is gone; confirmation arrives by webhook only.
	env.controller.Cancel(snap.ID)

	// Break booking creation after the money moves.
	if err := env.db.Migrator().DropTable(&models.Appointment{}); err != nil {
		t.Fatalf("dropping table: %v", err)
	}

	var tx models.Transaction
	env.db.First(&tx, snap.TransactionID)
	if err := env.controller.ApplyGatewayStatus(context.Background(), tx.GatewayPaymentID, gateway.StatusApproved); err == nil {
		t.Fatal("expected fulfillment error to surface")
	}

	// The payment stays approved and the session says so, loudly.
	final, _ := env.controller.Get(snap.ID)
	if final.State != StateApproved {
		t.Errorf("state = %s, want approved", final.State)
	}
	if final.Error == "" {
		t.Error("booking failure must be surfaced on the session")
	}

	env.db.First(&tx, snap.TransactionID)
	if tx.PaymentStatus != models.PaymentApproved {
		t.Errorf("transaction status = %s, want approved", tx.PaymentStatus)
	}
}

func TestCardCheckoutSynchronous(t *testing.T) {
	env := setupEnv(t, time.Hour)

	req := env.beginRequest(models.MethodCreditCard)
	req.Card = gateway.Card{Token: "tok_ok", Brand: "visa"}

	snap, err := env.controller.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// Card settles synchronously: the returned snapshot is already terminal.
	if snap.State != StateFulfilled {
		t.Fatalf("state = %s, want fulfilled", snap.State)
	}
	if snap.PollAttempts != 0 {
		t.Errorf("poll attempts = %d, want 0", snap.PollAttempts)
	}
	if n := env.countRows(t, &models.Appointment{}); n != 1 {
		t.Errorf("appointments = %d, want 1", n)
	}
}

func TestCardDeclined(t *testing.T) {
	env := setupEnv(t, time.Hour)

	req := env.beginRequest(models.MethodCreditCard)
	req.Card = gateway.Card{Token: gateway.DeclinedCardToken, Brand: "visa"}

	snap, err := env.controller.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if snap.State != StateRejected {
		t.Fatalf("state = %s, want rejected", snap.State)
	}

	var tx models.Transaction
	env.db.First(&tx, snap.TransactionID)
	if tx.PaymentStatus != models.PaymentRejected {
		t.Errorf("transaction status = %s, want rejected", tx.PaymentStatus)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
	if n := env.countRows(t, &models.Appointment{}); n != 0 {
		t.Errorf("appointments = %d, want 0", n)
	}
}

func TestSlotHoldBlocksSecondCheckout(t *testing.T) {
	env := setupEnv(t, time.Hour)

	if _, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix)); err != nil {
		t.Fatalf("first begin: %v", err)
	}

	req := env.beginRequest(models.MethodPix)
	req.CustomerName = "Bruno Lima"
	req.CustomerEmail = "bruno@example.com"
	if _, err := env.controller.Begin(context.Background(), req); !errors.Is(err, ErrSlotHeld) {
		t.Fatalf("expected ErrSlotHeld, got %v", err)
	}

	// A different slot is unaffected.
	req.Time = "15:00"
	if _, err := env.controller.Begin(context.Background(), req); err != nil {
		t.Fatalf("different slot: %v", err)
	}
}

func TestExpiredHoldIsSwept(t *testing.T) {
	env := setupEnv(t, time.Hour)

	scheduledAt, _ := time.Parse("2006-01-02 15:04", "2026-09-10 14:00")
	env.db.Create(&models.SlotHold{
		ProfessionalID: env.prof.ID,
		ScheduledAt:    scheduledAt,
		SessionID:      "stale",
		ExpiresAt:      time.Now().Add(-time.Minute),
	})

	if _, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix)); err != nil {
		t.Fatalf("begin over expired hold: %v", err)
	}
}

func TestCancelStopsPollingKeepsLedger(t *testing.T) {
	env := setupEnv(t, time.Hour)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if !env.controller.Cancel(snap.ID) {
		t.Fatal("cancel returned false for a live session")
	}
	if env.controller.Cancel("nope") {
		t.Error("cancel of unknown session should return false")
	}

	// Cancel never touches the payment: the ledger row stays pending for
	// webhook reconciliation.
	var tx models.Transaction
	env.db.First(&tx, snap.TransactionID)
	if tx.PaymentStatus != models.PaymentPending {
		t.Errorf("transaction status = %s, want pending", tx.PaymentStatus)
	}
	if n := env.countRows(t, &models.SlotHold{}); n != 0 {
		t.Errorf("slot holds = %d, want 0", n)
	}
	if _, ok := env.controller.Get(snap.ID); !ok {
		t.Error("cancelled session should remain queryable")
	}
}

func TestChargeFailureLeavesAuditableRecord(t *testing.T) {
	env := setupEnv(t, time.Hour)

	// Route this professional through a gateway that always fails.
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	env.controller.gateways.MercadoPago = gateway.NewMercadoPago(failing.URL)
	env.db.Model(&env.prof).Updates(map[string]interface{}{
		"gateway":       models.GatewayMercadoPago,
		"gateway_token": "APP_USR-test",
	})

	_, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if !errors.Is(err, gateway.ErrChargeFailed) {
		t.Fatalf("expected ErrChargeFailed, got %v", err)
	}

	// The pending row survives as the audit trail of the failed attempt.
	var tx models.Transaction
	if err := env.db.Order("id DESC").First(&tx).Error; err != nil {
		t.Fatalf("loading transaction: %v", err)
	}
	if tx.PaymentStatus != models.PaymentPending {
		t.Errorf("transaction status = %s, want pending", tx.PaymentStatus)
	}

	// The hold is released so a retry is not blocked by the failed attempt.
	if _, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix)); !errors.Is(err, gateway.ErrChargeFailed) {
		t.Fatalf("retry should reach the gateway again, got %v", err)
	}
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	env := setupEnv(t, time.Hour)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if !env.controller.Cancel(snap.ID) {
		t.Fatal("cancel returned false")
	}

	// The released slot must be bookable again right away.
	req := env.beginRequest(models.MethodPix)
	req.CustomerName = "Bruno Lima"
	req.CustomerEmail = "bruno@example.com"
	if _, err := env.controller.Begin(context.Background(), req); err != nil {
		t.Fatalf("rebooking a cancelled slot: %v", err)
	}
}

func TestHoldReleaseScopedToTransaction(t *testing.T) {
	env := setupEnv(t, time.Hour)

	first, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	var firstTx models.Transaction
	env.db.First(&firstTx, first.TransactionID)

	// The first customer walks away; the server later forgets the session
	// while the gateway still owes us a verdict on their payment.
	env.controller.Cancel(first.ID)
	env.controller.dropSession(first.ID)

	req := env.beginRequest(models.MethodPix)
	req.CustomerName = "Bruno Lima"
	req.CustomerEmail = "bruno@example.com"
	second, err := env.controller.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}

	// The late rejection of the abandoned payment must not free the slot
	// the new checkout is holding.
	if err := env.controller.ApplyGatewayStatus(context.Background(), firstTx.GatewayPaymentID, gateway.StatusRejected); err != nil {
		t.Fatalf("apply rejected: %v", err)
	}

	var hold models.SlotHold
	if err := env.db.First(&hold).Error; err != nil {
		t.Fatalf("surviving hold: %v", err)
	}
	if hold.TransactionID != second.TransactionID {
		t.Errorf("hold owned by transaction %d, want %d", hold.TransactionID, second.TransactionID)
	}

	req.CustomerName = "Clara Dias"
	req.CustomerEmail = "clara@example.com"
	if _, err := env.controller.Begin(context.Background(), req); !errors.Is(err, ErrSlotHeld) {
		t.Fatalf("expected ErrSlotHeld, got %v", err)
	}
}

func TestTerminalSessionsEvicted(t *testing.T) {
	env := setupEnv(t, 0)
	env.db.Model(&env.prof).Update("demo", true)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	c := env.controller
	c.mu.Lock()
	sess := c.sessions[snap.ID]
	c.lastSweep = time.Now().Add(-2 * time.Minute)
	c.mu.Unlock()
	sess.mu.Lock()
	sess.terminalAt = time.Now().Add(-time.Hour)
	sess.mu.Unlock()

	c.sweepSessions()

	if _, ok := c.Get(snap.ID); ok {
		t.Error("long-finished session still queryable after sweep")
	}
}

func TestFreshSessionsSurviveSweep(t *testing.T) {
	env := setupEnv(t, 0)
	env.db.Model(&env.prof).Update("demo", true)

	snap, err := env.controller.Begin(context.Background(), env.beginRequest(models.MethodPix))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	c := env.controller
	c.mu.Lock()
	c.lastSweep = time.Now().Add(-2 * time.Minute)
	c.mu.Unlock()

	c.sweepSessions()

	if _, ok := c.Get(snap.ID); !ok {
		t.Error("recently finished session evicted too early")
	}
}
