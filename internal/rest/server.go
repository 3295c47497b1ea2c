// Package rest is the Binance Spot REST v3-compatible façade over
// VirtualExchange, built on gin-gonic/gin the way the teacher's api.Server
// is (router groups, a zap-backed recovery middleware, prometheus metrics
// exposed alongside), per SPEC_FULL.md §6.1.
package rest

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/archive"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/platform/apiauth"
	"github.com/qtexchange/vexchange/internal/vtime"
)

// Server is the REST façade: one gin.Engine over one Exchange.
type Server struct {
	router   *gin.Engine
	exchange *exchange.Exchange
	clock    *vtime.Manager
	keys     *apiauth.KeyStore
	log      *zap.Logger
	skewMs   int64
	archive  *archive.Store
}

// AttachArchive wires the optional cold-archive store (spec.md §6.3) into
// allOrders so terminal orders swept out of the live order set remain
// queryable. A Server with no archive attached keeps degrading to the live
// open-order set.
func (s *Server) AttachArchive(a *archive.Store) { s.archive = a }

// New builds a Server. skewMs is the configured timestamp_skew_ms
// (spec.md §6.4, default 10000).
func New(ex *exchange.Exchange, clock *vtime.Manager, keys *apiauth.KeyStore, log *zap.Logger, skewMs int64) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	s := &Server{router: router, exchange: ex, clock: clock, keys: keys, log: log, skewMs: skewMs}

	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", headerAPIKey},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.registerRoutes()
	return s
}

// Router exposes the underlying gin.Engine, for tests and for embedding in
// an http.Server.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	s.log.Info("starting REST server", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	v3 := s.router.Group("/api/v3")

	v3.GET("/ping", s.ping)
	v3.GET("/time", s.serverTime)
	v3.GET("/exchangeInfo", s.exchangeInfo)
	v3.GET("/ticker/price", s.tickerPrice)
	v3.GET("/ticker/24hr", s.ticker24h)
	v3.GET("/depth", s.depth)
	v3.GET("/trades", s.trades)
	v3.GET("/klines", s.klines)
	v3.GET("/avgPrice", s.avgPrice)

	signed := s.signed(s.skewMs)
	v3.GET("/account", signed, s.account)
	v3.POST("/order", signed, s.placeOrder)
	v3.GET("/order", signed, s.getOrder)
	v3.DELETE("/order", signed, s.cancelOrder)
	v3.GET("/openOrders", signed, s.openOrders)
	v3.GET("/allOrders", signed, s.allOrders)
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) serverTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"serverTime": s.clock.NowMs()})
}
