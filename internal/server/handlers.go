package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mail-chat-bridge-go/internal/models"
	"mail-chat-bridge-go/internal/supervisor"
)

// Accounts controls the supervised account workers
type Accounts interface {
	Status() []supervisor.UnitStatus
	UnitStatus(name string) (supervisor.UnitStatus, error)
	Start(name string) error
	Stop(name string) error
}

// JournalReader reads delivery records
type JournalReader interface {
	Recent(ctx context.Context, account string, limit int) ([]models.DeliveryRecord, error)
	Ping(ctx context.Context) error
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Journal   string            `json:"journal"`
	Accounts  map[string]string `json:"accounts"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	accounts Accounts
	journal  JournalReader
	gatherer prometheus.Gatherer
	health   healthcheck.Handler
}

// NewHandlers creates the status API handlers. journal may be nil.
func NewHandlers(accounts Accounts, journal JournalReader, gatherer prometheus.Gatherer) *Handlers {
	h := &Handlers{
		accounts: accounts,
		journal:  journal,
		gatherer: gatherer,
		health:   healthcheck.NewHandler(),
	}
	h.addChecks()
	return h
}

func (h *Handlers) addChecks() {
	h.health.AddLivenessCheck("accounts", func() error {
		statuses := h.accounts.Status()
		for _, st := range statuses {
			if !st.Failed {
				return nil
			}
		}
		return errors.New("no account worker is alive")
	})

	h.health.AddReadinessCheck("workers", func() error {
		for _, st := range h.accounts.Status() {
			if st.Running {
				return nil
			}
		}
		return errors.New("no account worker is running")
	})

	if h.journal != nil {
		h.health.AddReadinessCheck("journal", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return h.journal.Ping(ctx)
		})
	}
}

// SetupRoutes registers all routes on router
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/live", gin.WrapF(h.health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(h.health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	accounts := router.Group("/accounts")
	{
		accounts.GET("", h.ListAccounts)
		accounts.GET("/:name", h.GetAccount)
		accounts.POST("/:name/start", h.StartAccount)
		accounts.POST("/:name/stop", h.StopAccount)
	}

	router.GET("/journal", h.GetJournal)
}

// HealthCheck summarizes worker and journal state
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Journal:   "disabled",
		Accounts:  make(map[string]string),
	}

	alive := 0
	for _, st := range h.accounts.Status() {
		switch {
		case st.Failed:
			response.Accounts[st.Name] = "failed"
		case st.Running:
			response.Accounts[st.Name] = string(st.Worker.State)
			alive++
		default:
			response.Accounts[st.Name] = "stopped"
		}
	}
	if alive == 0 {
		response.Status = "error"
	}

	if h.journal != nil {
		response.Journal = "ok"
		if err := h.journal.Ping(c.Request.Context()); err != nil {
			response.Status = "error"
			response.Journal = "error"
			logrus.Errorf("Journal health check failed: %v", err)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// ListAccounts returns every account and its worker status
func (h *Handlers) ListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.accounts.Status())
}

// GetAccount returns one account
func (h *Handlers) GetAccount(c *gin.Context) {
	st, err := h.accounts.UnitStatus(c.Param("name"))
	if err != nil {
		accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StartAccount resumes a stopped account worker
func (h *Handlers) StartAccount(c *gin.Context) {
	if err := h.accounts.Start(c.Param("name")); err != nil {
		accountError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// StopAccount stops an account worker until it is started again
func (h *Handlers) StopAccount(c *gin.Context) {
	if err := h.accounts.Stop(c.Param("name")); err != nil {
		accountError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetJournal returns recent delivery records
func (h *Handlers) GetJournal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "journal_disabled", Message: "Delivery journal is not enabled", Code: http.StatusNotFound})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_limit", Message: "limit must be a positive integer", Code: http.StatusBadRequest})
			return
		}
		limit = n
	}

	records, err := h.journal.Recent(c.Request.Context(), c.Query("account"), limit)
	if err != nil {
		logrus.Errorf("Failed to read journal: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: "Failed to fetch deliveries", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, records)
}

func accountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, supervisor.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: err.Error(), Code: http.StatusNotFound})
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrFailed):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "conflict", Message: err.Error(), Code: http.StatusConflict})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error", Message: err.Error(), Code: http.StatusInternalServerError})
	}
}
