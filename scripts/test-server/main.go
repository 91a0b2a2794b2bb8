// Command test-server is a local stand-in for the content API and the
// frontend exercised by the example test definitions.
//
//	go run ./scripts/test-server --addr :3000 --latency 20ms
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type server struct {
	latency  time.Duration
	jitter   time.Duration
	capacity int64
	token    string
	inFlight atomic.Int64
	logger   *zap.Logger
}

func main() {
	s := &server{token: uuid.NewString()}
	var addr string

	cmd := &cobra.Command{
		Use:   "test-server",
		Short: "Serve the endpoints used by the example load tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			s.logger = logger

			srv := &http.Server{
				Addr:              addr,
				Handler:           s.routes(),
				ReadTimeout:       5 * time.Second,
				WriteTimeout:      5 * time.Second,
				IdleTimeout:       120 * time.Second,
				ReadHeaderTimeout: 2 * time.Second,
			}
			logger.Info("starting test server",
				zap.String("addr", addr),
				zap.Duration("latency", s.latency),
				zap.Int64("capacity", s.capacity))
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address")
	cmd.Flags().DurationVar(&s.latency, "latency", 0, "Added latency per request")
	cmd.Flags().DurationVar(&s.jitter, "jitter", 0, "Random extra latency up to this value")
	cmd.Flags().Int64Var(&s.capacity, "capacity", 0, "Concurrent requests served before answering 503 (0 = unlimited)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /content/upload", s.authed(http.StatusCreated, map[string]interface{}{"id": "c1"}))
	mux.HandleFunc("POST /content/get-range", s.authed(http.StatusCreated, []map[string]interface{}{
		{"id": "c1", "title": "Tech Trends of 2024"},
	}))
	for _, page := range []string{"/{$}", "/channel", "/channel/create"} {
		mux.HandleFunc("GET "+page, s.page)
	}
	return s.limit(mux)
}

// limit applies the configured latency and concurrency capacity.
func (s *server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)

		d := s.latency
		if s.jitter > 0 {
			d += time.Duration(rand.Int63n(int64(s.jitter)))
		}
		time.Sleep(d)

		if s.capacity > 0 && n > s.capacity {
			s.logger.Debug("over capacity", zap.Int64("inFlight", n))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Path)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": s.token})
}

func (s *server) authed(status int, body interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
