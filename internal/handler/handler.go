// Package handler exposes the issuance workflow and operator endpoints over
// HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"certify/internal/auth"
	"certify/internal/httpmiddleware"
	"certify/internal/issuance"
	"certify/internal/stats"
)

// Messages returned to certificate requesters.
const (
	MsgInvalidPayload = "Invalid payload"
	MsgNotEligible    = "You did not attend the class, sorry."
	MsgNoName         = "No name on record for this registration number."
	MsgFailed         = "Failed to generate certificate"
)

// Issuer runs the issuance workflow.
type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (issuance.Certificate, error)
}

// IssuanceLister reads the issuance log.
type IssuanceLister interface {
	ListIssuances(ctx context.Context, f issuance.IssuanceFilter) ([]issuance.IssuanceRecord, error)
}

// Readiness is implemented by the backing store.
type Readiness interface {
	Ready(ctx context.Context) error
}

// RedisHealth is implemented by store.Redis.
type RedisHealth interface {
	Healthy(ctx context.Context) bool
}

// TemplateStatus reports per-track template availability.
type TemplateStatus interface {
	Status(ctx context.Context) map[issuance.Track]error
}

// Deps are the collaborators the router needs. Optional ones may be nil.
type Deps struct {
	Issuer    Issuer
	Issuances IssuanceLister
	Stats     stats.Recorder
	Store     Readiness
	Redis     RedisHealth
	Templates TemplateStatus
	Metrics   http.Handler
	Limiter   httpmiddleware.Limiter

	JWTSigningKey string
	JWTIssuer     string
}

// certRequest is the body of POST /api/cert. Name and track accept any JSON
// value; anything that is not a string is treated as absent, so the track
// falls back to the default.
type certRequest struct {
	Name  any    `json:"name"`
	Reg   string `json:"reg" validate:"notblank"`
	Track any    `json:"track"`
}

func optionalString(v any) string {
	s, _ := v.(string)
	return s
}

type handler struct {
	d        Deps
	validate *validator.Validate
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(d Deps) *gin.Engine {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	h := &handler{d: d, validate: v}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	if d.Limiter != nil {
		api.Use(httpmiddleware.RateLimit(d.Limiter))
	}
	api.POST("/cert", h.issueCertificate)

	admin := r.Group("/v1/admin", auth.RequireRole(d.JWTSigningKey, d.JWTIssuer, auth.RoleAdmin))
	admin.GET("/issuances", h.listIssuances)
	admin.GET("/stats", h.stats)

	return r
}

func (h *handler) issueCertificate(c *gin.Context) {
	var body certRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidPayload})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidPayload})
		return
	}
	req, err := issuance.ParseRequest(optionalString(body.Name), body.Reg, optionalString(body.Track))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidPayload})
		return
	}

	cert, err := h.d.Issuer.Issue(c.Request.Context(), req)
	if err != nil {
		status, msg := errorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, cert.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", cert.PDF)
}

// errorResponse maps a workflow error to the status and message the
// requester sees. Everything that is not a payload or eligibility problem
// collapses to a generic 500.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, issuance.ErrInvalidPayload):
		return http.StatusBadRequest, MsgInvalidPayload
	case errors.Is(err, issuance.ErrNotEligible):
		return http.StatusNotFound, MsgNotEligible
	case errors.Is(err, issuance.ErrNoNameOnRecord):
		return http.StatusNotFound, MsgNoName
	default:
		return http.StatusInternalServerError, MsgFailed
	}
}

func (h *handler) listIssuances(c *gin.Context) {
	if h.d.Issuances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "issuance log not available"})
		return
	}
	f := issuance.IssuanceFilter{Reg: c.Query("reg")}
	if v := c.Query("track"); v != "" {
		tr, err := issuance.ParseTrackStrict(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Track = tr
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	recs, err := h.d.Issuances.ListIssuances(c.Request.Context(), f)
	if err != nil {
		log.Printf("list issuances failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list issuances failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issuances": recs})
}

func (h *handler) stats(c *gin.Context) {
	if h.d.Stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats not available"})
		return
	}
	snap, err := h.d.Stats.Snapshot(c.Request.Context())
	if err != nil {
		log.Printf("stats snapshot failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	healthy := true

	dbHealthy := h.d.Store != nil && h.d.Store.Ready(ctx) == nil
	healthy = healthy && dbHealthy
	resp := gin.H{"db": dbHealthy}

	if h.d.Redis != nil {
		redisHealthy := h.d.Redis.Healthy(ctx)
		healthy = healthy && redisHealthy
		resp["redis"] = redisHealthy
	}

	if h.d.Templates != nil {
		tpls := gin.H{}
		for track, err := range h.d.Templates.Status(ctx) {
			if err != nil {
				healthy = false
				tpls[track.String()] = err.Error()
				continue
			}
			tpls[track.String()] = "ok"
		}
		resp["templates"] = tpls
	}

	status := http.StatusOK
	resp["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
	}
	c.JSON(status, resp)
}
