package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plantation/internal/attendance"
	"plantation/internal/auth"
	"plantation/internal/httpmiddleware"
	"plantation/internal/logging"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Taps            TapProcessor
	Reader          attendance.Reader
	Roster          RosterReader
	Health          map[string]HealthCheck
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	CORSOrigins     []string
}

// NewRouter builds the gin engine. The device endpoint sits outside the
// session-authenticated group: devices authenticate with their own key.
func NewRouter(d Deps) *gin.Engine {
	useJSONFieldNames()
	corsCfg := cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(d.CORSOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger("/healthz", "/metrics"))
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(d.Health))

	iot := NewIoTHandler(d.Taps)
	var tapChain []gin.HandlerFunc
	if d.RateLimitPerMin > 0 {
		limiter := httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin)
		tapChain = append(tapChain, limiter.GinMiddleware(httpmiddleware.ByClientIP))
	}
	r.POST(AttendancePath, append(tapChain, iot.Attendance)...)

	dash := NewDashboardHandler(d.Reader, d.Roster)
	staff := []string{auth.RoleManager, auth.RoleSupervisor}
	session := r.Group("/api", auth.SessionAuth(d.SigningKey, d.Issuer))
	session.GET("/shifts", auth.RequireRole(auth.RoleManager, auth.RoleSupervisor, auth.RoleWorker), dash.Shifts)
	session.GET("/attendance/logs", auth.RequireRole(staff...), dash.Logs)
	session.GET("/zones/:zone/onsite", auth.RequireRole(staff...), dash.OnSite)

	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
