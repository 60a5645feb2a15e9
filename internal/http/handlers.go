package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-escrow/internal/auth"
	"github.com/example/ride-escrow/internal/dispatch"
	"github.com/example/ride-escrow/internal/escrow"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/models"
)

const maxBodyBytes = 1 << 16

type Options struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	// TrustProxy keys clients on the X-Forwarded-For entry appended by the
	// reverse proxy in front of the server. Leave unset when clients reach
	// the server directly.
	TrustProxy         bool
	Logger             *slog.Logger
}

type Server struct {
	Escrow  *escrow.Escrow
	Ledger  *ledger.Ledger
	Auth    *auth.Issuer
	WSReg   *dispatch.WSRegistry
	limiter    *RateLimiter
	trustProxy bool
	logger     *slog.Logger
	mux        *mux.Router
}

func NewServer(e *escrow.Escrow, l *ledger.Ledger, iss *auth.Issuer, ws *dispatch.WSRegistry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Escrow:  e,
		Ledger:  l,
		Auth:    iss,
		WSReg:   ws,
		limiter:    NewRateLimiter(opts.RateLimitPerMinute, opts.RateLimitBurst),
		trustProxy: opts.TrustProxy,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/rides", s.requireCaller(s.handleCreateRide)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id:[0-9]+}/join", s.requireCaller(s.handleJoinRide)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/cancel-booking", s.requireCaller(s.rideAction(s.Escrow.CancelBooking))).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/complete", s.requireCaller(s.rideAction(s.Escrow.CompleteRide))).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/cancel", s.requireCaller(s.rideAction(s.Escrow.CancelRide))).Methods("POST")
	api.HandleFunc("/platform", s.handlePlatform).Methods("GET")
	api.HandleFunc("/platform/{counter}", s.handleCounter).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleAccount).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{address}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRideRequest struct {
	Price uint64 `json:"price"`
	Seats uint64 `json:"seats"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request, caller models.Address) {
	var req createRideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	id, err := s.Escrow.CreateRide(r.Context(), caller, req.Price, req.Seats)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ride_id": id})
}

// joinRideRequest describes the payment grouped with the join call. Its
// sender is always the authenticated caller.
type joinRideRequest struct {
	Amount   uint64          `json:"amount"`
	Receiver *models.Address `json:"receiver"`
}

func (s *Server) handleJoinRide(w http.ResponseWriter, r *http.Request, caller models.Address) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req joinRideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	receiver := s.Escrow.EscrowAddress()
	if req.Receiver != nil {
		receiver = *req.Receiver
	}
	payment := models.Payment{Sender: caller, Receiver: receiver, Amount: req.Amount}
	if err := s.Escrow.JoinRide(r.Context(), caller, id, payment); err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	s.writeRide(w, r, id, http.StatusOK)
}

func (s *Server) rideAction(op func(ctx context.Context, sender models.Address, rideID uint64) error) callerHandler {
	return func(w http.ResponseWriter, r *http.Request, caller models.Address) {
		id, ok := rideID(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), caller, id); err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		s.writeRide(w, r, id, http.StatusOK)
	}
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	s.writeRide(w, r, id, http.StatusOK)
}

func (s *Server) writeRide(w http.ResponseWriter, r *http.Request, id uint64, status int) {
	v, err := s.Escrow.GetRide(r.Context(), id)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	c, err := s.Escrow.Counters(r.Context())
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	bal, err := s.Escrow.Balance(r.Context())
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"info":           s.Escrow.GetPlatformInfo(),
		"app_id":         s.Escrow.AppID(),
		"escrow_address": s.Escrow.EscrowAddress(),
		"escrow_balance": bal,
		"penalty":        s.Escrow.Penalty(),
		"counters":       c,
	})
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	var get func(r *http.Request) (uint64, error)
	switch name := mux.Vars(r)["counter"]; name {
	case "ride-count":
		get = func(r *http.Request) (uint64, error) { return s.Escrow.GetRideCount(r.Context()) }
	case "total-completed":
		get = func(r *http.Request) (uint64, error) { return s.Escrow.GetTotalCompleted(r.Context()) }
	case "total-rides":
		get = func(r *http.Request) (uint64, error) { return s.Escrow.GetTotalRides(r.Context()) }
	default:
		writeError(w, http.StatusNotFound, "NotFound", "unknown counter "+strconv.Quote(name))
		return
	}
	v, err := get(r)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"value": v})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidAddress", err.Error())
		return
	}
	bal, err := s.Ledger.Balance(r.Context(), addr)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "balance": bal})
}

var upgrader = websocket.Upgrader{}

// handleWS subscribes the caller to events of rides they take part in.
// Browsers cannot set headers on websocket requests, so the token may also
// come from the token query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	addr, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidAddress", err.Error())
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	caller, err := s.Auth.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	if caller != addr {
		writeError(w, http.StatusForbidden, "Forbidden", "token does not belong to this address")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.WSReg.Add(addr, conn)
	go func() {
		defer s.WSReg.Remove(addr, conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func rideID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid ride id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}
