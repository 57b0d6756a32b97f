package facilitator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

// RequestIDHeader carries the per-request id set by the server.
const RequestIDHeader = "X-Request-ID"

// Server serves /supported, /verify and /settle.
type Server struct {
	service     Service
	log         *zap.Logger
	gatherer    prometheus.Gatherer
	serviceName string
	engine      *gin.Engine
}

type ServerOption func(*Server)

func WithZapLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithGatherer selects the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

func WithServiceName(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// NewServer builds the gin engine around svc.
func NewServer(svc Service, opts ...ServerOption) *Server {
	s := &Server{
		service:     svc,
		log:         zap.NewNop(),
		gatherer:    prometheus.DefaultGatherer,
		serviceName: "x402-facilitator",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(s.recover))
	r.Use(requestID())
	r.Use(otelgin.Middleware(s.serviceName))
	r.Use(s.accessLog())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/supported", s.supported)
	r.POST("/verify", s.verify)
	r.POST("/settle", s.settle)

	s.engine = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) supported(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Supported())
}

func (s *Server) verify(c *gin.Context) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.service.Verify(c.Request.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		s.internalError(c, "verify", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) settle(c *gin.Context) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.service.Settle(c.Request.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		s.internalError(c, "settle", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.Error("facilitator request failed",
		zap.String("operation", op),
		zap.String("request_id", c.GetString(RequestIDHeader)),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.log.Error("panic while serving request",
		zap.Any("panic", recovered),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(RequestIDHeader)),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(RequestIDHeader)),
		)
	}
}
