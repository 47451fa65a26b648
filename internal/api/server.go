// Package api exposes custody and swap operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/custody"
	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/observability"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
	"solana-nft-custody/internal/swap"
)

// CollectionService is the custody manager surface used by the API.
type CollectionService interface {
	Create(ctx context.Context, req custody.CreateRequest) (*domain.Collection, error)
	Lock(ctx context.Context, req custody.LockRequest) (*domain.Collection, error)
	Unlock(ctx context.Context, req custody.LockRequest) (*domain.Collection, error)
	Get(ctx context.Context, id solana.PublicKey) (*domain.Collection, error)
	ListByOwner(ctx context.Context, owner solana.PublicKey) ([]*domain.Collection, error)
	History(ctx context.Context, id solana.PublicKey) ([]*domain.CustodyEvent, error)
}

// SwapService is the swap executor surface used by the API.
type SwapService interface {
	Register(ctx context.Context, req swap.RegisterRequest) (*domain.Swap, error)
	Get(ctx context.Context, id string) (*domain.Swap, error)
	History(ctx context.Context, id string) ([]*domain.CustodyEvent, error)
	Execute(ctx context.Context, req swap.ExecuteRequest) (*domain.Swap, error)
}

// Config holds HTTP surface settings.
type Config struct {
	CORSOrigins   []string
	SignatureSkew time.Duration
	MaxBodyBytes  int64
}

// Server routes HTTP requests to the services.
type Server struct {
	collections CollectionService
	swaps       SwapService
	accounts    storage.TxManager
	fees        storage.FeeReportStore // nil without an analytics store
	feed        http.Handler           // nil disables /v1/feed
	config      Config
	log         logrus.FieldLogger
	now         func() time.Time
}

// Option configures Server.
type Option func(*Server)

// WithFeeReports enables GET /v1/fees.
func WithFeeReports(store storage.FeeReportStore) Option {
	return func(s *Server) {
		s.fees = store
	}
}

// WithFeed mounts the websocket event feed.
func WithFeed(h http.Handler) Option {
	return func(s *Server) {
		s.feed = h
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithClock sets the time source used for signature freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server. accounts serves balance lookups.
func NewServer(collections CollectionService, swaps SwapService, accounts storage.TxManager, cfg Config, opts ...Option) *Server {
	if cfg.SignatureSkew <= 0 {
		cfg.SignatureSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	s := &Server{
		collections: collections,
		swaps:       swaps,
		accounts:    accounts,
		config:      cfg,
		log:         logrus.StandardLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID, s.accessLog)

	corsConfig := cors.Config{
		AllowOrigins:  s.config.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", headerCaller, headerTimestamp, headerSignature},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/collections/:id", s.getCollection)
	v1.GET("/collections/:id/events", s.collectionHistory)
	v1.GET("/owners/:owner/collections", s.listCollections)
	v1.GET("/swaps/:id", s.getSwap)
	v1.GET("/swaps/:id/events", s.swapHistory)
	v1.GET("/accounts/:address", s.getAccount)
	v1.GET("/fees", s.feeTotals)
	if s.feed != nil {
		v1.GET("/feed", gin.WrapH(s.feed))
	}

	signed := v1.Group("", s.authenticate)
	signed.POST("/collections", s.createCollection)
	signed.POST("/collections/:id/lock", s.lockCollection)
	signed.POST("/collections/:id/unlock", s.unlockCollection)
	signed.POST("/swaps", s.registerSwap)
	signed.POST("/swaps/:id/execute", s.executeSwap)

	return r
}
