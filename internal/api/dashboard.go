package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"plantation/internal/attendance"
	"plantation/internal/auth"
)

// RosterReader lists workers on-site in a zone.
type RosterReader interface {
	OnSite(ctx context.Context, zone string) ([]string, error)
}

// DashboardHandler serves read-only ledger views to signed-in staff.
type DashboardHandler struct {
	reader attendance.Reader
	roster RosterReader
}

// NewDashboardHandler builds the handler. roster may be nil.
func NewDashboardHandler(reader attendance.Reader, roster RosterReader) *DashboardHandler {
	return &DashboardHandler{reader: reader, roster: roster}
}

// Shifts handles GET /api/shifts. Workers only ever see their own shifts.
func (h *DashboardHandler) Shifts(c *gin.Context) {
	claims, _ := auth.Session(c)
	f := attendance.ShiftFilter{
		WorkerID: c.Query("worker_id"),
		ZoneID:   c.Query("zone_id"),
		OpenOnly: c.Query("open") == "true",
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	}
	if claims.Role == auth.RoleWorker {
		f.WorkerID = claims.Subject
	}

	shifts, err := h.reader.ListShifts(c.Request.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("list shifts failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if shifts == nil {
		shifts = []attendance.Shift{}
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

// Logs handles GET /api/attendance/logs.
func (h *DashboardHandler) Logs(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID != "" {
		if _, err := uuid.Parse(deviceID); err != nil {
			respondValidation(c, []FieldIssue{{Field: "device_id", Rule: "uuid", Message: "must be a UUID"}})
			return
		}
	}
	logs, err := h.reader.ListLogs(c.Request.Context(), attendance.LogFilter{
		WorkerID: c.Query("worker_id"),
		DeviceID: deviceID,
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		log.Error().Err(err).Msg("list attendance logs failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if logs == nil {
		logs = []attendance.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// OnSite handles GET /api/zones/:zone/onsite.
func (h *DashboardHandler) OnSite(c *gin.Context) {
	zone := c.Param("zone")
	if h.roster == nil {
		respondError(c, http.StatusServiceUnavailable, "roster not available")
		return
	}
	workers, err := h.roster.OnSite(c.Request.Context(), zone)
	if err != nil {
		log.Error().Err(err).Str("zone_id", zone).Msg("roster read failed")
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"zone_id": zone, "workers": workers, "count": len(workers)})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
