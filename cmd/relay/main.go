package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omechat/omechat-go/internal/metrics"
	"github.com/omechat/omechat-go/internal/relay"
)

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}
	metricsAddr := os.Getenv("METRICS_ADDR") // empty disables the metrics endpoint

	// --- Bus ---
	// Without NATS_URL the relay runs standalone on the in-memory bus.
	var bus relay.Bus
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := relay.DefaultNATSConfig()
		natsConfig.URL = natsURL
		if v := os.Getenv("NATS_RECONNECT_WAIT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				natsConfig.ReconnectWait = d
			}
		}
		natsBus, err := relay.NewNATSBus(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		bus = natsBus
	} else {
		bus = relay.NewMemBus()
	}

	log.Printf("omechat relay starting")
	log.Printf("  listen_addr:  %s", listenAddr)
	if metricsAddr != "" {
		log.Printf("  metrics_addr: %s", metricsAddr)
	}

	server := relay.New(bus)
	if err := server.Start(listenAddr); err != nil {
		log.Fatalf("relay start: %v", err)
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics endpoint: %v", err)
			}
		}()
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := bus.Close(); err != nil {
		log.Printf("bus close error: %v", err)
	}
}
