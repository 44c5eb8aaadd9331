package main

import (
	"encoding/csv"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-changepoint/internal/models"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

func main() {
	addr := ":8090"
	if v := os.Getenv("SYNTH_SERIES_ADDR"); v != "" {
		addr = v
	}

	logger := log.New(log.Writer(), "synth-series ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, newMux()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Date,Price CSV accepted by `changepoint detect --input`.
	mux.HandleFunc("/series.csv", func(w http.ResponseWriter, r *http.Request) {
		s, ok := shapeFromRequest(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		out := csv.NewWriter(w)
		_ = out.Write([]string{"Date", "Price"})
		for _, o := range s.generate().Observations {
			_ = out.Write([]string{utils.FormatDate(o.Timestamp), strconv.FormatFloat(o.Value, 'f', 4, 64)})
		}
		out.Flush()
	})

	// A Detect request body with K set to the number of generated breaks.
	mux.HandleFunc("/detect-request.json", func(w http.ResponseWriter, r *http.Request) {
		s, ok := shapeFromRequest(w, r)
		if !ok {
			return
		}
		cfg := models.DefaultModelConfig()
		cfg.NumChangePoints = len(s.Breaks)
		writeJSON(w, models.DetectRequest{Series: s.generate().Observations, Config: cfg})
	})
	return mux
}

func shapeFromRequest(w http.ResponseWriter, r *http.Request) (shape, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return shape{}, false
	}
	s, err := parseShape(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return shape{}, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
