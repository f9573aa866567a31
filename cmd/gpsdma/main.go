package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/gpsdma/internal/gps"
	"github.com/shaunagostinho/gpsdma/internal/publish"
	"github.com/shaunagostinho/gpsdma/internal/server"
	"github.com/shaunagostinho/gpsdma/web"
)

func main() {
	configPath := flag.String("config", "/etc/gpsdma/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated GPS receiver")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] gpsdma starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.GPS.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Pick the peripheral feeding the receive ring
	var periph gps.Peripheral
	switch cfg.GPS.Type {
	case "nmea":
		periph = gps.NewSerialDMA(gps.SerialConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
		})
	case "disabled":
		periph = nil
	default:
		periph = gps.NewDemoDMA(time.Duration(cfg.GPS.DemoMs) * time.Millisecond)
	}

	var src server.FixSource
	if periph != nil {
		driver := gps.NewDriver(cfg.GPS.BufferSize)
		// Start reception with exponential backoff (non-blocking — server starts regardless)
		go startWithRetry(ctx, "GPS", func() error { return driver.Initialize(periph) }, 10)
		src = driver
		if c, ok := periph.(io.Closer); ok {
			defer c.Close()
		}
	}

	var pub server.Publisher
	if cfg.MQTT.Enabled {
		m := publish.NewMQTT(cfg.MQTT)
		go startWithRetry(ctx, "MQTT", m.Connect, 10)
		defer m.Close()
		pub = m
	}

	srv := server.New(cfg, src, pub, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// startWithRetry attempts start with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func startWithRetry(ctx context.Context, name string, start func() error, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := start(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] start attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] start attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] started successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
