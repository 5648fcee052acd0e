package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/casamar/reservations-backend/internal/middleware"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/internal/services"
	"github.com/casamar/reservations-backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Reconciler is the reconciliation API the handler drives
type Reconciler interface {
	Confirm(ctx context.Context, ids models.Identifiers) (*services.ConfirmResult, error)
	RelockDates(ctx context.Context, bookingID string) (*services.ConfirmResult, error)
	History(ctx context.Context, bookingID string, limit int) ([]models.ReconciliationLog, error)
	Inspect(ctx context.Context, bookingID string) (*services.BookingInspection, error)
}

// SweepRunner runs the provisional hold sweep on demand
type SweepRunner interface {
	RunSweepNow(ctx context.Context) (*services.SweepReport, error)
}

// ReconciliationHandler handles booking confirmation endpoints
type ReconciliationHandler struct {
	reconciler Reconciler
	sweeper    SweepRunner
	logger     *logrus.Logger
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(reconciler Reconciler, sweeper SweepRunner, logger *logrus.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciler: reconciler,
		sweeper:    sweeper,
		logger:     logger,
	}
}

// ============================================================================
// PUBLIC TRIGGERS
// ============================================================================

// ConfirmBooking is the client polling trigger
// GET|POST /api/v1/bookings/confirm
func (h *ReconciliationHandler) ConfirmBooking(c *gin.Context) {
	h.confirmPublic(c, models.TriggerSourcePoll)
}

// PaymentReturn is the gateway redirect trigger
// GET /api/v1/payments/return
func (h *ReconciliationHandler) PaymentReturn(c *gin.Context) {
	h.confirmPublic(c, models.TriggerSourceRedirect)
}

func (h *ReconciliationHandler) confirmPublic(c *gin.Context, source models.TriggerSource) {
	req, ok := h.bindConfirmRequest(c)
	if !ok {
		return
	}

	if req.Manual {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "MANUAL_NOT_ALLOWED",
			"message": "Manual confirmation requires a staff token",
		})
		return
	}

	h.confirm(c, req.ToIdentifiers(source, c.Request.UserAgent()))
}

// ============================================================================
// STAFF ENDPOINTS
// ============================================================================

// ReconcileBooking replays reconciliation for a booking, honouring the manual flag
// POST /api/v1/admin/bookings/:booking_id/reconcile
func (h *ReconciliationHandler) ReconcileBooking(c *gin.Context) {
	req, ok := h.bindConfirmRequest(c)
	if !ok {
		return
	}
	req.BookingID = c.Param("booking_id")

	if staff, exists := middleware.GetStaffContext(c); exists {
		h.logger.WithFields(logrus.Fields{
			"booking_id": req.BookingID,
			"staff":      staff.Email,
			"manual":     req.Manual,
			"ip":         utils.GetRealIP(c),
		}).Info("Staff reconciliation requested")
	}

	h.confirm(c, req.ToIdentifiers(models.TriggerSourceManual, c.Request.UserAgent()))
}

// InspectBooking shows a booking with the state of its nights and forwarded requests
// GET /api/v1/admin/bookings/:booking_id
func (h *ReconciliationHandler) InspectBooking(c *gin.Context) {
	bookingID := c.Param("booking_id")

	inspection, err := h.reconciler.Inspect(c.Request.Context(), bookingID)
	if err != nil {
		h.writeError(c, err, bookingID)
		return
	}

	c.JSON(http.StatusOK, inspection)
}

// RelockDates re-runs night locking for a confirmed booking
// POST /api/v1/admin/bookings/:booking_id/lock-dates
func (h *ReconciliationHandler) RelockDates(c *gin.Context) {
	bookingID := c.Param("booking_id")

	result, err := h.reconciler.RelockDates(c.Request.Context(), bookingID)
	if err != nil {
		h.writeError(c, err, bookingID)
		return
	}

	c.JSON(http.StatusOK, buildConfirmResponse(result, false))
}

// GetReconciliationLog returns the audit trail of a booking
// GET /api/v1/admin/bookings/:booking_id/reconciliation-log?limit=100
func (h *ReconciliationHandler) GetReconciliationLog(c *gin.Context) {
	bookingID := c.Param("booking_id")

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "INVALID_LIMIT", "message": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := h.reconciler.History(c.Request.Context(), bookingID, limit)
	if err != nil {
		h.writeError(c, err, bookingID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": bookingID,
		"entries":    entries,
		"count":      len(entries),
	})
}

// RunSweep runs the provisional hold expiry sweep now
// POST /api/v1/admin/reconciliation/sweep
func (h *ReconciliationHandler) RunSweep(c *gin.Context) {
	report, err := h.sweeper.RunSweepNow(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "SWEEP_FAILED", "message": "Failed to run sweep"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// ============================================================================
// HELPERS
// ============================================================================

// bindConfirmRequest reads identifiers from the query string, then lets a
// JSON body override them on POST
func (h *ReconciliationHandler) bindConfirmRequest(c *gin.Context) (models.ConfirmBookingRequest, bool) {
	var req models.ConfirmBookingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "INVALID_REQUEST", "message": err.Error()})
		return req, false
	}

	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 &&
		strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "INVALID_REQUEST", "message": "invalid request: " + err.Error()})
			return req, false
		}
	}

	req.PaymentIntent = strings.TrimSpace(req.PaymentIntent)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.BookingID = strings.TrimSpace(req.BookingID)
	return req, true
}

func (h *ReconciliationHandler) confirm(c *gin.Context, ids models.Identifiers) {
	if ids.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "MISSING_IDENTIFIERS",
			"message": "One of payment_intent, session_id or booking_id is required",
		})
		return
	}

	result, err := h.reconciler.Confirm(c.Request.Context(), ids)
	if err != nil {
		if services.IsPartialFailure(err) && result != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": result.Booking.ID,
				"ip":         utils.GetRealIP(c),
			}).Error("Booking confirmed but nights not locked")
			c.JSON(http.StatusOK, buildConfirmResponse(result, true))
			return
		}
		h.writeError(c, err, ids.BookingID)
		return
	}

	c.JSON(http.StatusOK, buildConfirmResponse(result, false))
}

func (h *ReconciliationHandler) writeError(c *gin.Context, err error, bookingID string) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	message := "Failed to reconcile booking"

	switch {
	case errors.Is(err, models.ErrMissingIdentifiers):
		status, code, message = http.StatusBadRequest, "MISSING_IDENTIFIERS", err.Error()
	case errors.Is(err, models.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, models.ErrInvalidRange), errors.Is(err, models.ErrEmptyRange):
		status, code, message = http.StatusUnprocessableEntity, "INVALID_STAY_DATES", err.Error()
	case errors.Is(err, models.ErrNotConfirmed):
		status, code, message = http.StatusConflict, "NOT_CONFIRMED", err.Error()
	case errors.Is(err, models.ErrGatewayUnavailable):
		code, message = "GATEWAY_UNAVAILABLE", "Payment gateway unavailable, try again"
	}

	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"booking_id": bookingID,
		"status":     status,
		"ip":         utils.GetRealIP(c),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Reconciliation failed")
	} else {
		entry.Warn("Reconciliation rejected")
	}

	c.JSON(status, gin.H{"success": false, "error": code, "message": message})
}

func buildConfirmResponse(result *services.ConfirmResult, partial bool) models.ConfirmBookingResponse {
	resp := models.ConfirmBookingResponse{
		Success:        result.Confirmed(),
		RequiresAction: result.RequiresAction,
		PartialFailure: partial,
	}
	if result.Booking != nil {
		resp.Booking = result.Booking.ToSnapshot()
	}
	if result.Locked != nil {
		resp.LockedNights = result.Locked.Days
		resp.OverbookedNights = result.Locked.Conflicts
	}
	resp.Message = confirmMessage(result, partial)
	return resp
}

func confirmMessage(result *services.ConfirmResult, partial bool) string {
	b := result.Booking
	switch {
	case partial:
		return "Booking confirmed but room dates could not be locked, staff has been notified"
	case b == nil:
		return "Booking not reconciled"
	case b.Status == models.BookingStatusCancelled:
		return "Booking is cancelled"
	case b.Status == models.BookingStatusCompleted:
		return "Booking is completed"
	case b.IsProvisional():
		return "Booking confirmed, awaiting payment"
	case b.IsConfirmed():
		return "Booking confirmed"
	case result.RequiresAction:
		return "Payment requires further action"
	default:
		return "Payment not completed yet"
	}
}
