// Package admin serves the operational HTTP surface of the daemon.
package admin

import (
	"encoding/json"
	httpgo "net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/go-kratos/swagger-api/openapiv2"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionSource lists the live sessions, ordered by id.
type SessionSource interface {
	List() []*session.Session
}

type Server struct {
	*http.Server

	hub      *Hub
	sessions SessionSource
}

func NewServer(addr string, sessions SessionSource, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}

	s := &Server{
		Server:   http.NewServer(http.Address(addr)),
		hub:      hub,
		sessions: sessions,
	}

	s.HandlePrefix("/q/", openapiv2.NewHandler())
	s.Handle("/metrics", promhttp.Handler())
	s.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(httpgo.StatusOK)
	})
	s.HandleFunc("/sessions", s.listSessions)
	s.HandleFunc("/monitor", hub.ServeHTTP)

	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

type sessionView struct {
	ID         uint64       `json:"id"`
	RemoteAddr string       `json:"remote_addr"`
	CreatedAt  time.Time    `json:"created_at"`
	State      string       `json:"state"`
	Pending    int          `json:"pending"`
	Info       session.Info `json:"info"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != httpgo.MethodGet {
		w.WriteHeader(httpgo.StatusMethodNotAllowed)
		return
	}

	views := make([]sessionView, 0)

	if s.sessions != nil {
		for _, sess := range s.sessions.List() {
			views = append(views, sessionView{
				ID:         sess.ID(),
				RemoteAddr: sess.RemoteAddr(),
				CreatedAt:  sess.CreatedAt(),
				State:      sess.State().String(),
				Pending:    sess.Communicator().Pending(),
				Info:       sess.Info(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(views); err != nil {
		log.Errorf("[admin.Server] encode sessions failed. %+v", err)
	}
}
