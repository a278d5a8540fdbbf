package bus

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runeforged/runebus/internal/bus/config"
	"github.com/runeforged/runebus/internal/bus/jsoncodec"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// DebugHandler returns the debug mux: listener introspection, per-event
// dispatch stats, the deferred queue snapshot and Prometheus metrics.
func (b *Bus) DebugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/listeners", b.handleListeners)
	mux.HandleFunc("/api/stats", b.handleStats)
	mux.HandleFunc("/api/deferred", b.handleDeferred)
	mux.Handle("/metrics", promhttp.HandlerFor(b.metrics.Gatherer(), promhttp.HandlerOpts{}))
	return mux
}

func (b *Bus) handleListeners(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, "Failed to encode listeners", b.Listeners())
}

func (b *Bus) handleStats(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, "Failed to encode stats", b.Stats())
}

func (b *Bus) handleDeferred(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, "Failed to encode deferred snapshot", b.deferredMetrics.GetSnapshot())
}

func (b *Bus) writeJSON(w http.ResponseWriter, errMsg string, v any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := jsoncodec.Marshal(v)
	if err != nil {
		b.logger.Error(errMsg, err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Write(body)
}

// startDebugServer serves the debug handler on the configured port until
// Close shuts it down.
func (b *Bus) startDebugServer() {
	port := b.conf.DebugPort
	if port == 0 {
		port = config.DefaultDebugPort
	}

	b.debug = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: b.DebugHandler(),
	}

	go func() {
		b.logger.Info("Debug server listening", logging.LogFields{"port": port})
		if err := b.debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Debug server stopped", err, logging.LogFields{"port": port})
		}
	}()
}
