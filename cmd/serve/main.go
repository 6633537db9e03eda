package main

import (
	"flag"
	"log"
	"log/slog"
	gohttp "net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tilezen/go-tilefetch/config"
	"github.com/tilezen/go-tilefetch/http"
	"github.com/tilezen/go-tilefetch/internal/app"
	"github.com/tilezen/go-tilefetch/tiling"
)

type statusRecorder struct {
	gohttp.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger) func(gohttp.Handler) gohttp.Handler {
	return func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: gohttp.StatusOK}
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"remote", r.RemoteAddr,
					"user_agent", r.UserAgent(),
					"duration", time.Since(start))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file.")
	input := flag.String("input", "", "GeoJSON file to serve. Overrides layer.source.")
	addr := flag.String("listen", "", "The address and port to listen on. Overrides server.listen.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Couldn't load config: %+v", err)
	}
	if *input != "" {
		cfg.Layer.Source = *input
	}
	if *addr != "" {
		cfg.Server.Listen = *addr
	}
	if cfg.Layer.Source == "" {
		log.Fatal("Need to provide --input parameter or layer.source")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	src, err := app.Open(cfg, logger, tiling.NewMetrics(reg))
	if err != nil {
		log.Fatalf("Couldn't create tile source: %+v", err)
	}
	defer src.Close()

	router := gohttp.NewServeMux()
	router.Handle("/tiles/", http.TileHandler(src, logger))
	router.Handle("/featureinfo", http.FeatureInfoHandler(src, logger))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/", defaultHandler)

	server := &gohttp.Server{
		Addr:         cfg.Server.Listen,
		Handler:      loggingMiddleware(logger)(router),
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("Serving tiles", "listen", cfg.Server.Listen, "layer", cfg.Layer.Name, "cache", cfg.Cache.Kind)
	if err := server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Server.Listen, err)
	}
}

func defaultHandler(w gohttp.ResponseWriter, r *gohttp.Request) {
	gohttp.NotFound(w, r)
}
