package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/spotcycle/pkg/models"
	"github.com/gregtusar/spotcycle/pkg/store"
)

type Server struct {
	store  store.Store
	logger *logrus.Logger
	port   string
}

func NewServer(st store.Store, logger *logrus.Logger, port string) *Server {
	return &Server{
		store:  st,
		logger: logger,
		port:   port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/configs", s.handleConfigs)
	mux.HandleFunc("/api/ladders", s.handleLadders)
	mux.Handle("/metrics", promhttp.Handler())

	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	currency := r.URL.Query().Get("currency")
	if userID == "" || currency == "" {
		http.Error(w, "user_id and currency are required", http.StatusBadRequest)
		return
	}

	orders, err := s.store.FindOrders(r.Context(), userID, currency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []*models.TradeOrder{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

type configPayload struct {
	UserID           string   `json:"user_id"`
	Currency         string   `json:"currency"`
	MaxOpenPositions int      `json:"max_open_positions"`
	BuyTimeoutMs     int64    `json:"buy_timeout_ms"`
	HighBidGapMin    string   `json:"high_bid_gap_min"`
	CooldownEnabled  bool     `json:"cooldown_enabled"`
	CooldownMin      string   `json:"cooldown_min"`
	SpreadMin        string   `json:"spread_min"`
	FixedSellPrice   *string  `json:"fixed_sell_price,omitempty"`
	TimeoutStatuses  []string `json:"timeout_statuses,omitempty"`
	Deleted          bool     `json:"deleted"`
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		currency := r.URL.Query().Get("currency")
		if userID == "" || currency == "" {
			http.Error(w, "user_id and currency are required", http.StatusBadRequest)
			return
		}

		cfg, err := s.store.FindActiveConfig(r.Context(), userID, currency)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no active config", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, cfg)

	case http.MethodPost:
		var payload configPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cfg, err := payload.toConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.store.SaveConfig(r.Context(), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusCreated, cfg)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (p *configPayload) toConfig() (*models.StrategyConfig, error) {
	cfg := &models.StrategyConfig{
		UserID:           p.UserID,
		Currency:         p.Currency,
		MaxOpenPositions: p.MaxOpenPositions,
		BuyTimeout:       time.Duration(p.BuyTimeoutMs) * time.Millisecond,
		CooldownEnabled:  p.CooldownEnabled,
		Deleted:          p.Deleted,
	}

	var err error
	if cfg.HighBidGapMin, err = decimal.NewFromString(p.HighBidGapMin); err != nil {
		return nil, err
	}
	if cfg.CooldownMin, err = decimal.NewFromString(p.CooldownMin); err != nil {
		return nil, err
	}
	if cfg.SpreadMin, err = decimal.NewFromString(p.SpreadMin); err != nil {
		return nil, err
	}
	if p.FixedSellPrice != nil {
		fixed, err := decimal.NewFromString(*p.FixedSellPrice)
		if err != nil {
			return nil, err
		}
		cfg.FixedSellPrice = &fixed
	}
	for _, st := range p.TimeoutStatuses {
		cfg.TimeoutStatuses = append(cfg.TimeoutStatuses, models.OrderStatus(st))
	}
	return cfg, nil
}

type ladderPayload struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Tiers    []struct {
		DeviationThreshold string `json:"deviation_threshold"`
		OrderQuantity      int64  `json:"order_quantity"`
		SellSpread         string `json:"sell_spread"`
	} `json:"tiers"`
}

func (s *Server) handleLadders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		currency := r.URL.Query().Get("currency")
		if userID == "" || currency == "" {
			http.Error(w, "user_id and currency are required", http.StatusBadRequest)
			return
		}

		tiers, err := s.store.FindLadder(r.Context(), userID, currency)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, tiers)

	case http.MethodPost:
		var payload ladderPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tiers := make([]models.LadderTier, 0, len(payload.Tiers))
		for _, t := range payload.Tiers {
			threshold, err := decimal.NewFromString(t.DeviationThreshold)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			spread, err := decimal.NewFromString(t.SellSpread)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			tiers = append(tiers, models.LadderTier{
				DeviationThreshold: threshold,
				OrderQuantity:      t.OrderQuantity,
				SellSpread:         spread,
			})
		}

		if err := s.store.SaveLadder(r.Context(), payload.UserID, payload.Currency, tiers); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusCreated, tiers)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
