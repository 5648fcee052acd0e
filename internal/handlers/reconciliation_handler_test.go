package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casamar/reservations-backend/internal/middleware"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/internal/services"
	"github.com/casamar/reservations-backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	lastIDs   models.Identifiers
	calls     int
	result    *services.ConfirmResult
	err       error
	relockErr error
	history    []models.ReconciliationLog
	lastLimit  int
	inspection *services.BookingInspection
}

func (f *fakeReconciler) Confirm(_ context.Context, ids models.Identifiers) (*services.ConfirmResult, error) {
	f.calls++
	f.lastIDs = ids
	return f.result, f.err
}

func (f *fakeReconciler) RelockDates(_ context.Context, bookingID string) (*services.ConfirmResult, error) {
	if f.relockErr != nil {
		return nil, f.relockErr
	}
	return f.result, nil
}

func (f *fakeReconciler) History(_ context.Context, bookingID string, limit int) ([]models.ReconciliationLog, error) {
	f.lastLimit = limit
	return f.history, f.err
}

func (f *fakeReconciler) Inspect(_ context.Context, bookingID string) (*services.BookingInspection, error) {
	if f.inspection == nil {
		return nil, models.NewNotFound("booking", bookingID)
	}
	return f.inspection, nil
}

type fakeSweeper struct {
	report *services.SweepReport
	err    error
}

func (f *fakeSweeper) RunSweepNow(context.Context) (*services.SweepReport, error) {
	return f.report, f.err
}

const testJWTSecret = "test-secret"

func setupReconciliationRouter(reconciler *fakeReconciler, sweeper *fakeSweeper) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := NewReconciliationHandler(reconciler, sweeper, logger)
	jwtService := jwt.NewService(testJWTSecret, time.Hour)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/bookings/confirm", handler.ConfirmBooking)
	v1.POST("/bookings/confirm", handler.ConfirmBooking)
	v1.GET("/payments/return", handler.PaymentReturn)

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(jwt.RoleAdmin, jwt.RoleStaff))
	admin.GET("/bookings/:booking_id", handler.InspectBooking)
	admin.POST("/bookings/:booking_id/reconcile", handler.ReconcileBooking)
	admin.POST("/bookings/:booking_id/lock-dates", handler.RelockDates)
	admin.GET("/bookings/:booking_id/reconciliation-log", handler.GetReconciliationLog)
	admin.POST("/reconciliation/sweep", handler.RunSweep)
	return router
}

func staffToken(t *testing.T) string {
	token, err := jwt.NewService(testJWTSecret, time.Hour).
		GenerateAccessToken(uuid.New(), "frontdesk@casamar.example", []string{jwt.RoleStaff})
	require.NoError(t, err)
	return token
}

func confirmedResult() *services.ConfirmResult {
	return &services.ConfirmResult{
		Booking: &models.Booking{
			ID:            "B1",
			Status:        models.BookingStatusConfirmed,
			PaymentStatus: models.PaymentStatusPaid,
			RoomID:        "R1",
			CheckIn:       time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
			CheckOut:      time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC),
		},
		Changed: true,
		Locked:  &services.LockResult{Days: []string{"2024-06-10", "2024-06-11", "2024-06-12"}},
	}
}

func decodeConfirm(t *testing.T, w *httptest.ResponseRecorder) models.ConfirmBookingResponse {
	var resp models.ConfirmBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestConfirmBooking_Success(t *testing.T) {
	reconciler := &fakeReconciler{result: confirmedResult()}
	router := setupReconciliationRouter(reconciler, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/confirm?payment_intent=pi_1&booking_id=B1", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeConfirm(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Booking confirmed", resp.Message)
	require.NotNil(t, resp.Booking)
	assert.Equal(t, models.PaymentStatusPaid, resp.Booking.PaymentStatus)
	assert.Equal(t, "2024-06-10", resp.Booking.CheckIn)
	assert.Len(t, resp.LockedNights, 3)

	assert.Equal(t, "pi_1", reconciler.lastIDs.PaymentIntentID)
	assert.Equal(t, "B1", reconciler.lastIDs.BookingID)
	assert.Equal(t, models.TriggerSourcePoll, reconciler.lastIDs.Source)
	assert.Contains(t, reconciler.lastIDs.Client, "iPhone")
}

func TestConfirmBooking_JSONBody(t *testing.T) {
	reconciler := &fakeReconciler{result: confirmedResult()}
	router := setupReconciliationRouter(reconciler, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/confirm", strings.NewReader(`{"session_id":"cs_1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cs_1", reconciler.lastIDs.SessionID)
}

func TestPaymentReturn_RedirectSource(t *testing.T) {
	reconciler := &fakeReconciler{result: confirmedResult()}
	router := setupReconciliationRouter(reconciler, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/payments/return?payment_intent=pi_1&payment_intent_client_secret=pi_1_secret&redirect_status=succeeded", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TriggerSourceRedirect, reconciler.lastIDs.Source)
}

func TestConfirmBooking_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		result   *services.ConfirmResult
		err      error
		wantCode int
		wantErr  string
	}{
		{"Missing identifiers", "", nil, nil, http.StatusBadRequest, "MISSING_IDENTIFIERS"},
		{"Manual on public route", "?booking_id=B1&manual=true", nil, nil, http.StatusForbidden, "MANUAL_NOT_ALLOWED"},
		{"Bad manual flag", "?booking_id=B1&manual=maybe", nil, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"Booking not found", "?booking_id=B404", nil, models.NewNotFound("booking", "B404"), http.StatusNotFound, "NOT_FOUND"},
		{"Intent not found", "?payment_intent=pi_x", nil, models.NewNotFound("payment intent", "pi_x"), http.StatusNotFound, "NOT_FOUND"},
		{"Reversed stay", "?booking_id=B1", nil, fmt.Errorf("booking B1: %w", models.ErrInvalidRange), http.StatusUnprocessableEntity, "INVALID_STAY_DATES"},
		{"Same day stay", "?booking_id=B1", nil, fmt.Errorf("booking B1: %w", models.ErrEmptyRange), http.StatusUnprocessableEntity, "INVALID_STAY_DATES"},
		{"Gateway down", "?payment_intent=pi_1", nil, fmt.Errorf("payment intent pi_1: %w", models.ErrGatewayUnavailable), http.StatusInternalServerError, "GATEWAY_UNAVAILABLE"},
		{"Store failure", "?booking_id=B1", nil, fmt.Errorf("failed to get booking: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler := &fakeReconciler{result: tt.result, err: tt.err}
			router := setupReconciliationRouter(reconciler, &fakeSweeper{})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/confirm"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestConfirmBooking_PendingOutcomes(t *testing.T) {
	pending := &models.Booking{ID: "B1", Status: models.BookingStatusPending, PaymentStatus: models.PaymentStatusPending}
	provisional := &models.Booking{ID: "B1", Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPending}

	tests := []struct {
		name        string
		result      *services.ConfirmResult
		wantSuccess bool
		wantAction  bool
		wantMessage string
	}{
		{"Requires action", &services.ConfirmResult{Booking: pending, RequiresAction: true}, false, true, "Payment requires further action"},
		{"Not paid", &services.ConfirmResult{Booking: pending}, false, false, "Payment not completed yet"},
		{"Provisional", &services.ConfirmResult{Booking: provisional}, true, false, "Booking confirmed, awaiting payment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupReconciliationRouter(&fakeReconciler{result: tt.result}, &fakeSweeper{})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/confirm?booking_id=B1", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			resp := decodeConfirm(t, w)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantAction, resp.RequiresAction)
			assert.Equal(t, tt.wantMessage, resp.Message)
		})
	}
}

func TestConfirmBooking_PartialFailure(t *testing.T) {
	result := confirmedResult()
	result.Locked = nil
	reconciler := &fakeReconciler{
		result: result,
		err:    &models.PartialFailureError{Booking: result.Booking, Cause: models.NewNotFound("room", "R1")},
	}
	router := setupReconciliationRouter(reconciler, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/confirm?booking_id=B1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeConfirm(t, w)
	assert.True(t, resp.Success)
	assert.True(t, resp.PartialFailure)
	assert.Empty(t, resp.LockedNights)
}

func TestReconcileBooking_Staff(t *testing.T) {
	t.Run("Requires a token", func(t *testing.T) {
		reconciler := &fakeReconciler{result: confirmedResult()}
		router := setupReconciliationRouter(reconciler, &fakeSweeper{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/B1/reconcile", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 0, reconciler.calls)
	})

	t.Run("Manual override honoured", func(t *testing.T) {
		reconciler := &fakeReconciler{result: confirmedResult()}
		router := setupReconciliationRouter(reconciler, &fakeSweeper{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/B1/reconcile", strings.NewReader(`{"manual":true}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+staffToken(t))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "B1", reconciler.lastIDs.BookingID)
		assert.True(t, reconciler.lastIDs.Manual)
		assert.Equal(t, models.TriggerSourceManual, reconciler.lastIDs.Source)
	})
}

func TestRelockDates(t *testing.T) {
	t.Run("Locks", func(t *testing.T) {
		router := setupReconciliationRouter(&fakeReconciler{result: confirmedResult()}, &fakeSweeper{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/B1/lock-dates", nil)
		req.Header.Set("Authorization", "Bearer "+staffToken(t))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeConfirm(t, w).LockedNights, 3)
	})

	t.Run("Not confirmed", func(t *testing.T) {
		reconciler := &fakeReconciler{relockErr: fmt.Errorf("booking B1 is pending: %w", models.ErrNotConfirmed)}
		router := setupReconciliationRouter(reconciler, &fakeSweeper{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/B1/lock-dates", nil)
		req.Header.Set("Authorization", "Bearer "+staffToken(t))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestGetReconciliationLog(t *testing.T) {
	entry := models.NewReconciliationLog("B1", models.ReconciliationActionDatesBlocked, models.TriggerSourcePoll).
		SetRoom("R1").
		SetDays([]string{"2024-06-10"})
	reconciler := &fakeReconciler{history: []models.ReconciliationLog{*entry}}
	router := setupReconciliationRouter(reconciler, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/bookings/B1/reconciliation-log?limit=20", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, reconciler.lastLimit)
	var body struct {
		BookingID string                     `json:"booking_id"`
		Count     int                        `json:"count"`
		Entries   []models.ReconciliationLog `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, models.ReconciliationActionDatesBlocked, body.Entries[0].Action)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/bookings/B1/reconciliation-log?limit=-1", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunSweep(t *testing.T) {
	sweeper := &fakeSweeper{report: &services.SweepReport{Examined: 2, Cancelled: 1, Settled: 1}}
	router := setupReconciliationRouter(&fakeReconciler{}, sweeper)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconciliation/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool                 `json:"success"`
		Report  services.SweepReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Report.Cancelled)
}

func TestInspectBooking(t *testing.T) {
	inspection := &services.BookingInspection{
		Booking:  confirmedResult().Booking.ToSnapshot(),
		Nights:   []services.NightState{{Day: "2024-06-10", HeldBy: []string{"B1"}}},
		Messages: []models.InboxMessage{},
	}
	router := setupReconciliationRouter(&fakeReconciler{inspection: inspection}, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/bookings/B1", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body services.BookingInspection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "B1", body.Booking.ID)
	assert.Equal(t, []string{"B1"}, body.Nights[0].HeldBy)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/bookings/B404", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	w = httptest.NewRecorder()
	setupReconciliationRouter(&fakeReconciler{}, &fakeSweeper{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
