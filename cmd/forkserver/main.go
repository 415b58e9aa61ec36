package main

// forkserver exposes the simulator over HTTP for non-Go tooling. It is a
// thin binding: every route maps 1:1 onto a Model operation and carries no
// execution semantics of its own.
//
// Routes:
//   POST /sessions                       – fork a chain; body {url, block?, bech32_prefix?, transport?}
//   POST /sessions/{id}/instantiate      – {code_id, msg, funds}
//   POST /sessions/{id}/execute          – {contract, msg, funds}
//   POST /sessions/{id}/query/wasm       – {contract, msg}
//   POST /sessions/{id}/query/bank       – raw bank query JSON
//   POST /sessions/{id}/cheat/{what}     – cheat-specific body
//   DELETE /sessions/{id}                – close the session

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cwfork/core"
	"cwfork/pkg/config"
)

var limiter = rate.NewLimiter(200, 100) // 200 req/s, burst 100

func limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type server struct {
	mu       sync.RWMutex
	sessions map[string]*core.Model
}

func (s *server) session(id string) (*core.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sessions[id]
	return m, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type createSessionRequest struct {
	URL          string  `json:"url"`
	Block        *uint64 `json:"block"`
	Bech32Prefix string  `json:"bech32_prefix"`
	Transport    string  `json:"transport"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Bech32Prefix == "" {
		req.Bech32Prefix = "wasm"
	}
	var model *core.Model
	var err error
	if req.Transport == "lcd" {
		model, err = core.NewModelLCD(req.URL, req.Bech32Prefix)
	} else {
		model, err = core.NewModel(req.URL, req.Block, req.Bech32Prefix)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	id := uuid.New().String()
	s.mu.Lock()
	s.sessions[id] = model
	s.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"session": id,
		"url":     req.URL,
		"block":   model.BlockNumber(),
	}).Info("session created")
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": id,
		"block":   model.BlockNumber(),
	})
}

func (s *server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	model, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	if err := model.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errSessionNotFound = &sessionError{"session not found"}

type sessionError struct{ msg string }

func (e *sessionError) Error() string { return e.msg }

type txRequest struct {
	CodeID   uint64          `json:"code_id"`
	Contract string          `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
	Funds    []core.Coin     `json:"funds"`
}

func (s *server) withSession(fn func(*core.Model, *txRequest, http.ResponseWriter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model, ok := s.session(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, errSessionNotFound)
			return
		}
		var req txRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fn(model, &req, w)
	}
}

func (s *server) handleInstantiate(model *core.Model, req *txRequest, w http.ResponseWriter) {
	log, err := model.Instantiate(req.CodeID, req.Msg, req.Funds)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *server) handleExecute(model *core.Model, req *txRequest, w http.ResponseWriter) {
	log, err := model.Execute(req.Contract, req.Msg, req.Funds)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *server) handleWasmQuery(model *core.Model, req *txRequest, w http.ResponseWriter) {
	resp, err := model.WasmQuery(req.Contract, req.Msg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"data": json.RawMessage(resp)})
}

func (s *server) handleBankQuery(w http.ResponseWriter, r *http.Request) {
	model, ok := s.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := model.BankQuery(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"data": json.RawMessage(resp)})
}

type cheatRequest struct {
	Height    *uint64     `json:"height"`
	Timestamp *uint64     `json:"timestamp"`
	Address   string      `json:"address"`
	Denom     string      `json:"denom"`
	Amount    string      `json:"amount"`
	Key       core.Binary `json:"key"`
	Value     core.Binary `json:"value"`
	Code      core.Binary `json:"code"`
}

func (s *server) handleCheat(w http.ResponseWriter, r *http.Request) {
	model, ok := s.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	var req cheatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch chi.URLParam(r, "what") {
	case "block-number":
		if req.Height == nil {
			writeError(w, http.StatusBadRequest, &sessionError{"height required"})
			return
		}
		err = model.CheatBlockNumber(*req.Height)
	case "block-timestamp":
		if req.Timestamp == nil {
			writeError(w, http.StatusBadRequest, &sessionError{"timestamp required"})
			return
		}
		err = model.CheatBlockTimestamp(core.Timestamp(*req.Timestamp))
	case "balance":
		var amount core.Uint128
		amount, err = core.ParseUint128(req.Amount)
		if err == nil {
			err = model.CheatBankBalance(req.Address, req.Denom, amount)
		}
	case "sender":
		err = model.CheatMessageSender(req.Address)
	case "code":
		err = model.CheatCode(req.Address, req.Code)
	case "storage":
		err = model.CheatStorage(req.Address, req.Key, req.Value)
	default:
		writeError(w, http.StatusNotFound, &sessionError{"unknown cheat"})
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(os.Getenv("CWFORK_CONFIG"))
	if err != nil {
		logrus.Fatal(err)
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	s := &server{sessions: make(map[string]*core.Model)}

	r := chi.NewRouter()
	r.Use(limit)
	r.Post("/sessions", s.handleCreateSession)
	r.Delete("/sessions/{id}", s.handleCloseSession)
	r.Post("/sessions/{id}/instantiate", s.withSession(s.handleInstantiate))
	r.Post("/sessions/{id}/execute", s.withSession(s.handleExecute))
	r.Post("/sessions/{id}/query/wasm", s.withSession(s.handleWasmQuery))
	r.Post("/sessions/{id}/query/bank", s.handleBankQuery)
	r.Post("/sessions/{id}/cheat/{what}", s.handleCheat)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	logrus.Infof("fork server listening on %s", cfg.Server.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Fatal(err)
	}
}
