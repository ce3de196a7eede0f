package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollcall/internal/account"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/report"
	"rollcall/internal/roster"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the services behind the router.
type Deps struct {
	Attendance  *attendance.Service
	Roster      *roster.Service
	Accounts    *account.Service
	Reports     *report.Service
	Issuer      *auth.Issuer
	Blacklist   auth.Blacklist
	Limiter     *httpmiddleware.SimpleTokenBucket
	CORSOrigins []string
	Health      map[string]HealthCheck
	Logger      *zap.Logger
}

type handler struct {
	att      *attendance.Service
	roster   *roster.Service
	accounts *account.Service
	reports  *report.Service
	health   map[string]HealthCheck
	logger   *zap.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) *gin.Engine {
	registerValidators()
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handler{
		att:      d.Attendance,
		roster:   d.Roster,
		accounts: d.Accounts,
		reports:  d.Reports,
		health:   d.Health,
		logger:   d.Logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.Logger(d.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	public := v1.Group("")
	if d.Limiter != nil {
		public.Use(d.Limiter.GinMiddleware(func(c *gin.Context) string { return "ip:" + c.ClientIP() }))
	}
	public.POST("/auth/login", h.login)
	public.POST("/auth/refresh", h.refresh)

	authed := v1.Group("", auth.UserAuth(d.Issuer, d.Blacklist))
	if d.Limiter != nil {
		authed.Use(d.Limiter.GinMiddleware(func(c *gin.Context) string {
			claims, _ := auth.ClaimsFrom(c)
			return "user:" + claims.Subject
		}))
	}
	authed.POST("/auth/logout", h.logout)
	authed.GET("/auth/me", h.me)

	staff := auth.RequireRole(auth.RoleDelegate, auth.RoleAdmin)
	student := auth.RequireRole(auth.RoleStudent)
	admin := auth.RequireRole(auth.RoleAdmin)

	authed.GET("/sessions/open", student, h.openSessions)
	authed.GET("/sessions/marked", student, h.markedSessions)
	authed.POST("/sessions/:id/attendance", student, h.mark)
	authed.GET("/sessions/:id/status", h.sessionStatus)
	authed.GET("/sessions/:id", h.getSession)
	authed.POST("/sessions", staff, h.createSession)
	authed.POST("/sessions/:id/close", staff, h.closeSession)
	authed.GET("/sessions/:id/roster", staff, h.sessionRoster)

	authed.GET("/courses", h.listCourses)
	authed.POST("/courses", admin, h.createCourse)
	authed.GET("/courses/:id/sessions", h.courseSessions)
	authed.GET("/courses/:id/students", staff, h.courseStudents)
	authed.POST("/courses/:id/enrolments", admin, h.enrol)
	authed.DELETE("/courses/:id/enrolments/:studentId", admin, h.unenrol)
	authed.GET("/courses/:id/calendar.ics", h.calendar)

	authed.POST("/users", admin, h.createUser)
	authed.GET("/users", admin, h.listUsers)

	authed.GET("/reports/courses/:id", staff, h.courseReport)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (h *handler) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func subject(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}
