// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"forum-digest-notifier/token"
)

// Runner triggers a digest cycle on demand.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Decoder recovers a user id from an unsubscribe token.
type Decoder interface {
	Decode(tok string) (string, error)
}

// Server handles HTTP requests.
type Server struct {
	runner  Runner
	decoder Decoder
	logger  *slog.Logger
	lmsBase string
}

// Config holds server configuration.
type Config struct {
	Runner  Runner
	Decoder Decoder
	Logger  *slog.Logger
	LMSBase string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		runner:  cfg.Runner,
		decoder: cfg.Decoder,
		logger:  cfg.Logger,
		lmsBase: cfg.LMSBase,
	}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 40px 20px; }
a { color: #2c7cb0; }
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>{{end}}
</body>
</html>
`))

type pageData struct {
	Title    string
	Message  string
	Link     string
	LinkText string
}

// ServeHTTP sets up all routes and starts the server.
func (s *Server) ServeHTTP(port string) error {
	http.HandleFunc("/", s.handleRoot)
	http.HandleFunc("/health", s.handleHealth)
	http.HandleFunc("/digestz", s.handleDigest)
	http.HandleFunc("/unsubscribe", s.handleUnsubscribe)

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.renderPage(w, pageData{
		Title:   "Forum Digest Notifier",
		Message: "This service sends periodic email digests of course discussion activity.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Digest endpoint triggered")

	if err := s.runner.RunOnce(r.Context()); err != nil {
		s.logger.Error("Digest cycle failed", "error", err)
		http.Error(w, "Digest cycle failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleUnsubscribe decodes the token and forwards the user to the LMS
// notification preferences page. A malformed token gets a generic page, the
// error detail stays in the log.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	userID, err := s.decoder.Decode(tok)
	if err != nil {
		var decodeErr *token.DecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Warn("Invalid unsubscribe token", "stage", decodeErr.Stage)
		} else {
			s.logger.Warn("Invalid unsubscribe token", "error", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		s.renderPage(w, pageData{
			Title:   "Invalid link",
			Message: "This unsubscribe link is invalid or has expired.",
		})
		return
	}

	s.logger.Info("Unsubscribe token decoded", "user_id", userID)
	s.renderPage(w, pageData{
		Title:    "Unsubscribe",
		Message:  "Manage your discussion digest preferences on the course site.",
		Link:     fmt.Sprintf("%s/notification_prefs/unsubscribe/%s/", s.lmsBase, tok),
		LinkText: "Unsubscribe from digest emails",
	})
}

func (s *Server) renderPage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")

	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("Failed to render page", "error", err)
	}
}
