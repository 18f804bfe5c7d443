package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hdrproxy/core"
	"hdrproxy/pkg/cache"
)

// server bundles the dependencies the debug endpoints need: a cache
// store, a token-bucket limiter shared across requests, and a logger.
type server struct {
	store   *cache.Store
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func newServeCmd() *cobra.Command {
	var (
		addr         string
		cacheSize    int
		ratePerSec   float64
		burst        int
		warmDir      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a debug HTTP endpoint over the header-heap cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.NewStore(cacheSize, nil)
			if err != nil {
				return err
			}
			if warmDir != "" {
				zlog, err := zap.NewProduction()
				if err != nil {
					return err
				}
				defer zlog.Sync()
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				n, err := cache.Warm(ctx, store, warmDir, 8, zlog)
				if err != nil {
					log.WithError(err).Warn("warm-up failed")
				} else {
					log.WithField("loaded", n).Info("cache warmed from disk")
				}
			}

			srv := &server{
				store:   store,
				limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
				log:     log,
			}
			router := srv.routes()
			log.WithField("addr", addr).Info("serving debug endpoint")
			return http.ListenAndServe(addr, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8099", "listen address")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 4096, "LRU entry capacity")
	cmd.Flags().Float64Var(&ratePerSec, "rate", 50, "requests per second per process")
	cmd.Flags().IntVar(&burst, "burst", 20, "token bucket burst size")
	cmd.Flags().StringVar(&warmDir, "warm-dir", "", "directory of .alt files to warm the cache from")
	return cmd
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/parse", s.handleParse).Methods(http.MethodPost)
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", s.handleCacheGet).Methods(http.MethodGet)
	return r
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.log.WithFields(logrus.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"duration": time.Since(start),
		}).Info("request served")
	})
}

func (s *server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, core.MaxLineSize*64))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	heap := core.NewHeaderHeap()
	obj, err := core.ParseHTTPMessage(heap, bytes.NewReader(body), core.PolarityRequest, core.StrictnessOff)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{
		"method":  string(obj.Method.Bytes()),
		"version": []int{int(obj.MajorVersion), int(obj.MinorVersion)},
	}
	if obj.URL != nil {
		resp["url"] = string(obj.URL.Print())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := cache.ParseObjectKey(vars["key"])
	if err != nil {
		http.Error(w, "bad key", http.StatusBadRequest)
		return
	}
	data, ok := s.store.Get(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := s.store.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"hits":    hits,
		"misses":  misses,
		"entries": s.store.Len(),
	})
}
