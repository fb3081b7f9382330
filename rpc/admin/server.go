// Package admin exposes the node's local administration surface: HTTP
// endpoints to register a supernode, add an RTA route, and trigger a
// broadcast, authenticated with HTTP Basic auth over a random credential
// when none is configured (grounded in the Graft supernode RPC server's
// "graft-supernode.<port>.login" convention, see
// original_source/src/supernode/supernode_rpc_server.cpp). Built on
// julienschmidt/httprouter and rs/cors, matching the teacher's transport
// choices for its JSON-RPC-ish admin surfaces.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/graft-project/graftd/internal/log"
)

var logger = log.NewModuleLogger(log.ModuleAdminRPC)

const loginUsername = "admin"

// Credentials holds the Basic auth pair guarding the admin surface.
type Credentials struct {
	Username string
	Password string
}

// GenerateCredentials produces a random password and writes it to
// graft-supernode.<port>.login in dir, mode 0600, matching the reference
// implementation's login-file convention.
func GenerateCredentials(dir string, port int) (Credentials, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Credentials{}, fmt.Errorf("admin: generate password: %w", err)
	}
	password := hex.EncodeToString(buf)
	creds := Credentials{Username: loginUsername, Password: password}

	path := fmt.Sprintf("%s/graft-supernode.%d.login", dir, port)
	content := []byte(creds.Username + ":" + creds.Password + "\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		return Credentials{}, fmt.Errorf("admin: write login file %s: %w", path, err)
	}
	logger.Info("wrote admin credentials", "path", path)
	return creds, nil
}

// Registrar and Broadcaster are the subsystem facades admin handlers call into.
type Registrar interface {
	RegisterSupernode(id, url, redirectURI string, redirectTimeoutMS int64) error
	AddRoute(recipientID, supernodeID string) error
}

type Broadcaster interface {
	Originate(recipientID string, payload []byte)
}

// Server is the admin HTTP surface.
type Server struct {
	creds Credentials
	reg   Registrar
	bcast Broadcaster
	http  *http.Server
}

func New(bindAddr string, creds Credentials, reg Registrar, bcast Broadcaster) *Server {
	s := &Server{creds: creds, reg: reg, bcast: bcast}

	r := httprouter.New()
	r.POST("/register_supernode", s.handleRegisterSupernode)
	r.POST("/add_rta_route", s.handleAddRoute)
	r.POST("/broadcast", s.handleBroadcast)

	handler := cors.New(cors.Options{AllowedMethods: []string{http.MethodPost}}).Handler(s.withAuth(r))
	s.http = &http.Server{Addr: bindAddr, Handler: handler}
	return s
}

func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }
func (s *Server) Close() error          { return s.http.Close() }

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.creds.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.creds.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="graftd-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type registerSupernodeRequest struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	RedirectURI       string `json:"redirect_uri"`
	RedirectTimeoutMS int64  `json:"redirect_timeout_ms"`
}

func (s *Server) handleRegisterSupernode(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body registerSupernodeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.reg.RegisterSupernode(body.ID, body.URL, body.RedirectURI, body.RedirectTimeoutMS); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addRouteRequest struct {
	RecipientID string `json:"recipient_id"`
	SupernodeID string `json:"supernode_id"`
}

func (s *Server) handleAddRoute(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body addRouteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.reg.AddRoute(body.RecipientID, body.SupernodeID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	RecipientID string `json:"recipient_id"`
	Payload     []byte `json:"payload"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body broadcastRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.bcast.Originate(body.RecipientID, body.Payload)
	w.WriteHeader(http.StatusNoContent)
}
