package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nebulalend/api/internal/metrics"
	"github.com/nebulalend/api/internal/position"
	"github.com/nebulalend/api/internal/price"
	"github.com/sirupsen/logrus"
)

// Server streams live prices and position snapshots to browsers
type Server struct {
	Hub      *Hub
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	symbols  map[string]bool
	sessions *position.Manager
}

// NewServer creates a WebSocket server that accepts connections from the
// listed origins; requests without an Origin header are always accepted
func NewServer(allowedOrigins []string, m *metrics.Metrics) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}

	s := &Server{
		metrics: m,
		symbols: make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
	s.Hub = NewHub(s.validate)
	return s
}

func (s *Server) validate(topic SubscriptionTopic, id string) error {
	switch topic {
	case TopicPrices:
		if !s.symbols[id] {
			return fmt.Errorf("%w: %q", price.ErrUnknownSymbol, id)
		}
	case TopicPositions:
		if s.sessions == nil {
			return position.ErrSessionNotFound
		}
		if _, err := s.sessions.Get(id); err != nil {
			return err
		}
	default:
		return errors.New("invalid subscription topic")
	}
	return nil
}

// StreamPrices forwards every quote for symbols to "prices:<SYMBOL>"
// subscribers. It must be called before Start.
func (s *Server) StreamPrices(src price.Source, symbols []string) (stop func(), err error) {
	var disposers []func()
	stop = func() {
		for _, d := range disposers {
			d()
		}
	}

	for _, symbol := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(symbol))
		unsubscribe, err := src.Subscribe(symbol, func(q price.Quote) {
			if s.metrics != nil {
				s.metrics.PriceTick(q.Symbol)
			}
			s.Hub.BroadcastPriceUpdate(priceUpdateFrom(q))
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("stream %s: %w", symbol, err)
		}
		s.symbols[symbol] = true
		disposers = append(disposers, unsubscribe)
	}
	return stop, nil
}

// StreamPositions forwards snapshots of sessions created afterwards to
// "positions:<id>" subscribers. It must be called before Start.
func (s *Server) StreamPositions(m *position.Manager) {
	s.sessions = m
	m.OnChange(func(snap position.Snapshot) {
		s.Hub.BroadcastPositionUpdate(snap)
	})
	m.OnClose(func(id string) {
		s.Hub.CloseTopic(TopicPositions.Key(id))
	})
}

// Start starts the hub loop
func (s *Server) Start() {
	go s.Hub.Run()
	logrus.Info("WebSocket server started")
}

// Stop stops the hub and disconnects every client
func (s *Server) Stop() {
	s.Hub.Stop()
	logrus.Info("WebSocket server stopped")
}

// HandleWebSocket upgrades the request and starts the client pumps
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.Hub, uuid.NewString())
	if !request(s.Hub, s.Hub.Register, client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	logrus.WithFields(logrus.Fields{
		"client_id": client.ID,
		"remote":    c.ClientIP(),
	}).Info("WebSocket client connected")
}

// HandleWebSocketStats returns WebSocket connection statistics
func (s *Server) HandleWebSocketStats(c *gin.Context) {
	stats := s.Hub.GetStats()
	stats.ActiveConnections = s.Hub.GetClientCount()
	stats.TotalSubscriptions = s.Hub.GetSubscriptionCount()
	stats.LastUpdate = time.Now()

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers WebSocket routes with the Gin router
func (s *Server) RegisterRoutes(router *gin.Engine) {
	ws := router.Group("/ws")
	{
		ws.GET("", s.HandleWebSocket)
		ws.GET("/stats", s.HandleWebSocketStats)
	}
}
