package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridtap/pkg/backend"
	"gridtap/pkg/engine"
	"gridtap/pkg/grid"
	"gridtap/pkg/nonce"
	"gridtap/pkg/session"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

// Server exposes the engine to the chart UI over REST and WebSocket.
type Server struct {
	engine *engine.Engine
	clock  util.Clock
	log    *zap.SugaredLogger
	router *mux.Router
	hub    *Hub
}

func NewServer(eng *engine.Engine, clock util.Clock, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: eng,
		clock:  clock,
		log:    log,
		router: mux.NewRouter(),
		hub:    NewHub(log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/grid/enable", s.handleEnableGrid).Methods("POST")
	api.HandleFunc("/grid/disable", s.handleDisableGrid).Methods("POST")
	api.HandleFunc("/tap", s.handleTap).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/multiplier", s.handleMultiplier).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the control API until the listener fails.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("control_api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleEnableGrid(w http.ResponseWriter, r *http.Request) {
	var req EnableGridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	margin, err := decimal.NewFromString(req.MarginTotal)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid marginTotal", err.Error())
		return
	}
	refPrice, err := decimal.NewFromString(req.ReferencePrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid referencePrice", err.Error())
		return
	}

	refTime := req.ReferenceTime
	if refTime == 0 {
		refTime = grid.SnapReferenceTime(s.clock.Now().Unix(), req.GridSizeX, req.TimeframeSeconds)
	}

	gs := &grid.Session{
		Symbol:           req.Symbol,
		MarginTotal:      margin,
		Leverage:         req.Leverage,
		TimeframeSeconds: req.TimeframeSeconds,
		GridSizeX:        req.GridSizeX,
		GridSizeYPercent: req.GridSizeYPercent,
		ReferenceTime:    refTime,
		ReferencePrice:   refPrice,
	}

	key, err := s.engine.EnableTapMode(r.Context(), gs)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("status", ModeUpdate{
		Type:      "mode",
		Enabled:   true,
		Timestamp: s.clock.Now().UnixMilli(),
	})
	respondJSON(w, EnableGridResponse{
		SessionKey:       key.Address.Hex(),
		SessionExpiresAt: key.ExpiresAt,
		ReferenceTime:    gs.ReferenceTime,
		ReferencePrice:   gs.ReferencePrice.StringFixed(8),
	})
}

func (s *Server) handleDisableGrid(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DisableTapMode(r.Context()); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.hub.BroadcastToChannel("status", ModeUpdate{
		Type:      "mode",
		Enabled:   false,
		Timestamp: s.clock.Now().UnixMilli(),
	})
	respondJSON(w, map[string]string{"status": "disabled"})
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req TapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	currentPrice := decimal.Zero
	if req.CurrentPrice != "" {
		var err error
		currentPrice, err = decimal.NewFromString(req.CurrentPrice)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid currentPrice", err.Error())
			return
		}
	}

	res, err := s.engine.HandleTap(r.Context(), req.CellX, req.CellY, currentPrice)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("taps", TapUpdate{
		Type:          "tap",
		OrderID:       res.OrderID,
		CellX:         req.CellX,
		CellY:         req.CellY,
		TriggerPrice:  res.TriggerPrice,
		IsLong:        res.IsLong,
		Multiplier:    res.Multiplier,
		OrderCount:    res.OrderCount,
		SessionSigned: res.SessionSigned,
		Timestamp:     s.clock.Now().UnixMilli(),
	})
	respondJSON(w, TapResponse{
		OrderID:       res.OrderID,
		TriggerPrice:  res.TriggerPrice,
		StartTime:     res.StartTime,
		EndTime:       res.EndTime,
		IsLong:        res.IsLong,
		Multiplier:    res.Multiplier,
		OrderCount:    res.OrderCount,
		SessionSigned: res.SessionSigned,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Enabled:      s.engine.Enabled(),
		SessionState: s.engine.SessionState().String(),
		Cells:        []CellInfo{},
	}
	if key := s.engine.SessionKey(); key != nil {
		resp.SessionKey = key.Address.Hex()
		resp.SessionExpiresAt = key.ExpiresAt
	}
	if gs := s.engine.GridSession(); gs != nil {
		resp.Grid = &GridInfo{
			Symbol:           gs.Symbol,
			MarginTotal:      gs.MarginTotal.StringFixed(6),
			Leverage:         gs.Leverage,
			TimeframeSeconds: gs.TimeframeSeconds,
			GridSizeX:        gs.GridSizeX,
			GridSizeYPercent: gs.GridSizeYPercent,
			ReferenceTime:    gs.ReferenceTime,
			ReferencePrice:   gs.ReferencePrice.StringFixed(8),
		}
	}
	for _, cell := range s.engine.Cells() {
		resp.Cells = append(resp.Cells, CellInfo{
			CellX:      cell.Key.X,
			CellY:      cell.Key.Y,
			OrderCount: cell.OrderCount,
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Orders()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "order journal read failed", err.Error())
		return
	}
	if records == nil {
		records = []*backend.OrderRecord{}
	}
	respondJSON(w, records)
}

// handleMultiplier previews the payout multiplier for a hover target:
// GET /api/v1/multiplier?entryPrice=&targetPrice=&entryTime=&targetTime=
func (s *Server) handleMultiplier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entryPrice, err := decimal.NewFromString(q.Get("entryPrice"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid entryPrice", err.Error())
		return
	}
	targetPrice, err := decimal.NewFromString(q.Get("targetPrice"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid targetPrice", err.Error())
		return
	}
	entryTime, err := strconv.ParseInt(q.Get("entryTime"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid entryTime", err.Error())
		return
	}
	targetTime, err := strconv.ParseInt(q.Get("targetTime"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid targetTime", err.Error())
		return
	}

	m := grid.Multiplier(entryPrice, targetPrice, entryTime, targetTime)
	respondJSON(w, MultiplierResponse{Multiplier: m.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// respondEngineError maps engine failures onto HTTP statuses the UI can
// act on. Backend rejections keep their reason verbatim.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	var backendErr *backend.Error
	switch {
	case errors.Is(err, nonce.ErrOrderInFlight):
		respondError(w, http.StatusTooManyRequests, "order in flight", "please wait for the previous order to finish")
	case errors.Is(err, engine.ErrTapModeDisabled):
		respondError(w, http.StatusConflict, "tap mode disabled", "enable a grid session first")
	case errors.Is(err, session.ErrAuthorizationDenied):
		respondError(w, http.StatusForbidden, "authorization denied", "the wallet rejected the session delegation")
	case errors.Is(err, wallet.ErrUserRejected):
		respondError(w, http.StatusForbidden, "signature rejected", "the wallet rejected the signing request")
	case errors.Is(err, wallet.ErrWalletNotFound):
		respondError(w, http.StatusServiceUnavailable, "wallet unavailable", err.Error())
	case errors.As(err, &backendErr):
		respondError(w, backendErr.StatusCode, "backend rejected request", backendErr.Reason)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
