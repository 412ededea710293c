// Package handlers exposes the detection and account workflows over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/auth"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/metrics"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/service"
)

// Uploader runs the upload pipeline.
type Uploader interface {
	Record(ctx context.Context, userID string, up service.Upload) (*service.UploadResult, error)
	Policy() service.UploadPolicy
}

// DetectionQueries serves stored detections.
type DetectionQueries interface {
	History(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error)
	Detail(ctx context.Context, userID, id string) (*model.Detection, error)
	Delete(ctx context.Context, userID, id string) error
	Stats(ctx context.Context, userID string) *model.DetectionStats
}

// Accounts manages users.
type Accounts interface {
	Register(ctx context.Context, in service.Registration) (*model.User, error)
	Login(ctx context.Context, login, password string) (*service.Session, error)
	Me(ctx context.Context, userID string) (*model.User, error)
	ChangePassword(ctx context.Context, userID string, in service.PasswordChange) error
	DeleteAccount(ctx context.Context, userID, password string) error
}

// EngineState reports the inference engine lifecycle.
type EngineState interface {
	State() inference.State
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators RegisterRoutes wires into the router.
type Dependencies struct {
	Recorder Uploader
	Queries  DetectionQueries
	Accounts Accounts
	Tokens   auth.TokenValidator
	Engine   EngineState
	Storage  Pinger
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics; nil skips the route.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds a gin engine with the standard middleware chain and all routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(
		logging.GinMiddleware(deps.Logger),
		gin.Recovery(),
		Instrument(deps.Metrics),
		TranslateErrors(deps.Logger),
	)
	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	h := &handler{
		recorder: deps.Recorder,
		queries:  deps.Queries,
		accounts: deps.Accounts,
		engine:   deps.Engine,
		storage:  deps.Storage,
	}
	requireAuth := auth.JWTMiddleware(deps.Tokens)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", h.ready)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	detection := router.Group("/api/detection", requireAuth)
	detection.POST("/upload", RequireUpload(deps.Recorder.Policy()), h.upload)
	detection.GET("/history", h.history)
	detection.GET("/details/:id", h.detail)
	detection.DELETE("/delete/:id", h.deleteDetection)
	detection.GET("/stats", h.stats)

	accounts := router.Group("/api/auth")
	accounts.POST("/register", h.register)
	accounts.POST("/login", h.login)
	accounts.POST("/logout", h.logout)
	accounts.GET("/me", requireAuth, h.me)
	accounts.POST("/change-password", requireAuth, h.changePassword)
	accounts.DELETE("/account", requireAuth, h.deleteAccount)
}

type handler struct {
	recorder Uploader
	queries  DetectionQueries
	accounts Accounts
	engine   EngineState
	storage  Pinger
}

// userID returns the authenticated subject. A missing subject is recorded as
// an auth error and the request is aborted.
func userID(c *gin.Context) (string, bool) {
	id, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		abortWith(c, apperror.Auth("handlers.user", "Authentication required"))
		return "", false
	}
	return id, true
}

func abortWith(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func (h *handler) ready(c *gin.Context) {
	state := inference.StateUninitialized
	if h.engine != nil {
		state = h.engine.State()
	}
	body := gin.H{"model": state.String()}
	status := http.StatusOK

	if state != inference.StateReady {
		status = http.StatusServiceUnavailable
	}
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			body["storage"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			body["storage"] = "ok"
		}
	}

	if status == http.StatusOK {
		body["status"] = "ready"
	} else {
		body["status"] = "not_ready"
	}
	c.JSON(status, body)
}
