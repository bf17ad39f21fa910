package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type echoReply struct {
	Service       string              `json:"service"`
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Query         map[string][]string `json:"query,omitempty"`
	UserID        string              `json:"user_id,omitempty"`
	UserRole      string              `json:"user_role,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	BodyBytes     int64               `json:"body_bytes"`
}

// newEchoHandler stands in for any downstream: it reflects what the gateway
// forwarded so the headers and path can be inspected by hand.
func newEchoHandler(service string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": service})
	})

	r.Get("/ws/{user_id}", func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "user_id")
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := req.Context()
		hello, _ := json.Marshal(map[string]string{"type": "connected", "user_id": userID})
		if err := c.Write(ctx, websocket.MessageText, hello); err != nil {
			return
		}
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				log.Debug("echo socket closed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	})

	r.HandleFunc("/api/v1/*", func(w http.ResponseWriter, req *http.Request) {
		n, _ := io.Copy(io.Discard, req.Body)
		reply := echoReply{
			Service:       service,
			Method:        req.Method,
			Path:          req.URL.Path,
			Query:         req.URL.Query(),
			UserID:        req.Header.Get("X-User-ID"),
			UserRole:      req.Header.Get("X-User-Role"),
			CorrelationID: req.Header.Get("X-Correlation-ID"),
			BodyBytes:     n,
		}
		log.Info("echo",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("correlation_id", reply.CorrelationID),
			zap.String("user_id", reply.UserID))
		writeJSON(w, http.StatusOK, reply)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
