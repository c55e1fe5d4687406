package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"plantation/internal/attendance"
	"plantation/internal/metrics"
)

// AttendancePath is fixed by deployed device firmware.
const AttendancePath = "/api/iot/attendance"

// isoMillis matches the timestamp shape devices already parse.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// TapProcessor is implemented by *attendance.Service.
type TapProcessor interface {
	ProcessTap(ctx context.Context, req attendance.TapRequest) (attendance.TapResult, error)
}

type tapPayload struct {
	DeviceID string `json:"device_id" binding:"required,uuid"`
	APIKey   string `json:"api_key" binding:"required,max=256"`
	RFIDUID  string `json:"rfid_uid" binding:"required,max=128"`
}

type tapResponse struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	WorkerID  string `json:"worker_id"`
	Timestamp string `json:"timestamp"`
}

// IoTHandler serves device taps.
type IoTHandler struct {
	taps TapProcessor
}

// NewIoTHandler wires the handler to a processor.
func NewIoTHandler(taps TapProcessor) *IoTHandler {
	return &IoTHandler{taps: taps}
}

// Attendance handles POST /api/iot/attendance.
func (h *IoTHandler) Attendance(c *gin.Context) {
	start := time.Now()
	defer func() { metrics.TapDuration.Observe(time.Since(start).Seconds()) }()

	var body tapPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.Taps.WithLabelValues("invalid").Inc()
		respondValidation(c, bindingIssues(err))
		return
	}
	deviceID, err := uuid.Parse(body.DeviceID)
	if err != nil {
		metrics.Taps.WithLabelValues("invalid").Inc()
		respondValidation(c, []FieldIssue{{Field: "device_id", Rule: "uuid", Message: "must be a UUID"}})
		return
	}

	res, err := h.taps.ProcessTap(c.Request.Context(), attendance.TapRequest{
		DeviceID:  deviceID,
		DeviceKey: body.APIKey,
		CardUID:   body.RFIDUID,
	})
	if err != nil {
		h.fail(c, deviceID, body.RFIDUID, err)
		return
	}

	outcome := "check_in"
	if res.Action == attendance.ActionCheckOut {
		outcome = "check_out"
	}
	metrics.Taps.WithLabelValues(outcome).Inc()

	c.JSON(http.StatusOK, tapResponse{
		Success:   true,
		Action:    string(res.Action),
		WorkerID:  res.WorkerID,
		Timestamp: res.At.UTC().Format(isoMillis),
	})
}

func (h *IoTHandler) fail(c *gin.Context, deviceID uuid.UUID, uid string, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidTap):
		metrics.Taps.WithLabelValues("invalid").Inc()
		respondValidation(c, []FieldIssue{{Field: "rfid_uid", Rule: "required", Message: "is required"}})
	case errors.Is(err, attendance.ErrUnauthorizedDevice):
		metrics.Taps.WithLabelValues("unauthorized").Inc()
		log.Warn().Str("device_id", deviceID.String()).Str("client_ip", c.ClientIP()).Msg("unauthorized device tap")
		respondError(c, http.StatusUnauthorized, "Unauthorized device")
	case errors.Is(err, attendance.ErrInvalidCredential):
		metrics.Taps.WithLabelValues("invalid_credential").Inc()
		log.Info().Str("device_id", deviceID.String()).Str("rfid_uid", uid).Msg("tap with unknown or inactive card")
		respondError(c, http.StatusNotFound, "Invalid or inactive RFID card")
	case errors.Is(err, attendance.ErrDuplicateTap):
		metrics.Taps.WithLabelValues("duplicate").Inc()
		respondError(c, http.StatusConflict, "Duplicate tap, please wait before tapping again")
	case errors.Is(err, attendance.ErrShiftConflict):
		metrics.Taps.WithLabelValues("conflict").Inc()
		log.Warn().Str("device_id", deviceID.String()).Str("rfid_uid", uid).Msg("tap lost shift write race twice")
		respondError(c, http.StatusConflict, "Concurrent tap conflict, please retry")
	default:
		metrics.Taps.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("device_id", deviceID.String()).Str("rfid_uid", uid).Msg("tap processing failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
