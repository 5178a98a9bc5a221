package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/loykin/relayr/internal/backend"
	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/metrics"
	"github.com/loykin/relayr/internal/relay"
)

// Service is the relay core as seen by the HTTP layer.
type Service interface {
	List(ctx context.Context) ([]job.Record, error)
	Add(ctx context.Context, req relay.AddRequest) (relay.AddResult, error)
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) ([]string, error)
}

// Options configure a Router. Zero values disable rate limiting and the
// metrics endpoint.
type Options struct {
	BasePath    string
	RateLimit   float64 // mutating requests per second
	RateBurst   int
	MetricsPath string
	Logger      *slog.Logger
}

// Router provides embeddable HTTP handlers for managing relay jobs.
// Endpoints:
//
//	GET    {basePath}/streams
//	POST   {basePath}/stream/add          body: {"stream_key","stream_name","source_url"}
//	POST   {basePath}/stream/stop/:id
//	DELETE {basePath}/stream/delete/:id
//	GET    {basePath}/stream/logs/:id
//	GET    /health
//	GET    {MetricsPath}
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      Service
	basePath string
	limiter  *rate.Limiter
	metrics  string
	logger   *slog.Logger
	now      func() time.Time
}

func NewRouter(svc Service, opts Options) *Router {
	r := &Router{
		svc:      svc,
		basePath: sanitizeBase(opts.BasePath),
		metrics:  opts.MetricsPath,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	g.GET("/health", r.handleHealth)
	if r.metrics != "" {
		g.GET(r.metrics, gin.WrapH(metrics.Handler()))
	}

	group := g.Group(r.basePath)
	group.GET("/streams", r.handleList)
	mut := group.Group("", r.rateLimit())
	mut.POST("/stream/add", r.handleAdd)
	mut.POST("/stream/stop/:id", r.handleStop)
	mut.DELETE("/stream/delete/:id", r.handleDelete)
	group.GET("/stream/logs/:id", r.handleLogs)
	return g
}

// NewServer wraps the router in an http.Server with the daemon's timeouts.
// A failed add waits for the backend to settle and then cleans up before it
// answers, so the write timeout covers both plus slack for backend commands.
func NewServer(addr string, r *Router, settle, cleanup time.Duration) *http.Server {
	write := max(15*time.Second, settle+cleanup+10*time.Second)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type okResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type addReq struct {
	StreamKey  string `json:"stream_key"`
	StreamName string `json:"stream_name"`
	SourceURL  string `json:"source_url"`
}

type addResp struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	StreamID    string `json:"stream_id"`
	SessionName string `json:"session_name"`
}

type listResp struct {
	Streams []job.Record `json:"streams"`
}

type logsResp struct {
	Logs []string `json:"logs"`
}

type healthResp struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{Status: "ok", Timestamp: r.now().UTC().Format(time.RFC3339)})
}

func (r *Router) handleList(c *gin.Context) {
	recs, err := r.svc.List(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	if recs == nil {
		recs = []job.Record{}
	}
	writeJSON(c, http.StatusOK, listResp{Streams: recs})
}

func (r *Router) handleAdd(c *gin.Context) {
	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.svc.Add(c.Request.Context(), relay.AddRequest{
		SourceLocator: req.SourceURL,
		Credential:    req.StreamKey,
		DisplayName:   req.StreamName,
	})
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, addResp{
		Success:     true,
		Message:     "relay started",
		StreamID:    res.ID,
		SessionName: res.SessionName,
	})
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := r.pathID(c)
	if !ok {
		return
	}
	if err := r.svc.Stop(c.Request.Context(), id); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Success: true, Message: "stream stopped"})
}

func (r *Router) handleDelete(c *gin.Context) {
	id, ok := r.pathID(c)
	if !ok {
		return
	}
	if err := r.svc.Delete(c.Request.Context(), id); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Success: true, Message: "stream deleted"})
}

func (r *Router) handleLogs(c *gin.Context) {
	id, ok := r.pathID(c)
	if !ok {
		return
	}
	lines, err := r.svc.Logs(c.Request.Context(), id)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logsResp{Logs: lines})
}

// pathID extracts :id. Ids never contain path characters, so anything else
// cannot name a job.
func (r *Router) pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isSafeID(id) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: (&relay.NotFoundError{ID: id}).Error()})
		return "", false
	}
	return id, true
}

// fail maps core errors to HTTP status codes.
func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func statusFor(err error) int {
	var ve *relay.ValidationError
	var nf *relay.NotFoundError
	var ue *backend.UnavailableError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (r *Router) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.limiter != nil && !r.limiter.Allow() {
			writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
