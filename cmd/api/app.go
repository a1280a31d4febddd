package main

import (
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebulalend/api/internal/auth"
	"github.com/nebulalend/api/internal/config"
	"github.com/nebulalend/api/internal/lending"
	"github.com/nebulalend/api/internal/metrics"
	"github.com/nebulalend/api/internal/notify"
	"github.com/nebulalend/api/internal/position"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/swap"
	"github.com/nebulalend/api/internal/token"
	"github.com/nebulalend/api/internal/wallet"
	"github.com/nebulalend/api/internal/websocket"
)

// 2.4567 ETH, the balance every simulated wallet reports
var simulatedWei, _ = new(big.Int).SetString("2456700000000000000", 10)

// app wires the services behind the HTTP API
type app struct {
	cfg       *config.Config
	tokens    token.Service
	prices    price.Source
	symbols   []string
	metrics   *metrics.Metrics
	connector *wallet.Connector
	notices   *notify.Center
	manager   *position.Manager
	ws        *websocket.Server
	auth      *auth.AuthMiddleware
	stopFeed  func()
}

func newApp(cfg *config.Config, tokens token.Service, prices price.Source, symbols []string) (*app, error) {
	engine, err := risk.NewEngine(risk.Thresholds{
		LiquidationPercent: cfg.LiquidationPercent,
		CautionPercent:     cfg.CautionPercent,
	})
	if err != nil {
		return nil, fmt.Errorf("risk thresholds: %w", err)
	}

	m := metrics.New()

	connector := wallet.NewConnector(m)
	for _, name := range []string{wallet.MetaMask, wallet.CoinbaseWallet, wallet.WalletConnect} {
		connector.Register(name, wallet.NewSimulated(cfg.WalletDelay, simulatedWei))
	}

	notices, err := notify.NewCenter(cfg.NotificationTTL)
	if err != nil {
		return nil, fmt.Errorf("notification center: %w", err)
	}

	manager := position.NewManager(position.Deps{
		Engine:  engine,
		Prices:  prices,
		Tokens:  tokens,
		Metrics: m,
	})
	manager.OnClose(notices.Clear)

	ws := websocket.NewServer(cfg.AllowedOrigins, m)
	stopFeed, err := ws.StreamPrices(prices, symbols)
	if err != nil {
		notices.Close()
		return nil, err
	}
	ws.StreamPositions(manager)

	return &app{
		cfg:       cfg,
		tokens:    tokens,
		prices:    prices,
		symbols:   symbols,
		metrics:   m,
		connector: connector,
		notices:   notices,
		manager:   manager,
		ws:        ws,
		auth:      auth.NewAuthMiddleware(),
		stopFeed:  stopFeed,
	}, nil
}

func (a *app) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(auth.SecurityHeaders())
	router.Use(auth.SecureCORS(a.cfg.AllowedOrigins))
	router.Use(a.metrics.Middleware())

	var submitGuards []gin.HandlerFunc
	if a.cfg.AuthEnabled {
		submitGuards = append(submitGuards, a.auth.RequireAuth())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"service":   "nebulalend-api",
			"sessions":  a.manager.Count(),
		})
	})
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	a.ws.RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	{
		a.auth.RegisterRoutes(v1)
		token.NewHandler(a.tokens).RegisterRoutes(v1)
		price.NewHandler(a.prices, a.symbols).RegisterRoutes(v1)
		wallet.NewHandler(a.connector).RegisterRoutes(v1)
		swap.NewHandler(swap.NewService(a.tokens, a.prices)).RegisterRoutes(v1)
		lending.NewHandler(lending.NewService(a.tokens, a.prices, a.notices, a.manager, a.cfg.SupplyDelay)).RegisterRoutes(v1)
		position.NewHandler(a.manager, a.connector, a.notices, submitGuards...).RegisterRoutes(v1)
	}
	return router
}

func (a *app) start() {
	a.ws.Start()
}

// close stops live push and discards every session
func (a *app) close() {
	a.stopFeed()
	a.ws.Stop()
	a.manager.CloseAll()
	a.notices.Close()
}
