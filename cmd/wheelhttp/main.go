package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/s00inx/wheelhttp/server"
	"github.com/s00inx/wheelhttp/server/router"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "bound of one read, 0 disables")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "bound of one write, 0 disables")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close conns silent this long, 0 disables")
	flag.DurationVar(&cfg.Tick, "tick", cfg.Tick, "idle wheel resolution")
	flag.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "max simultaneous conns, 0 = unlimited")
	flag.BoolVar(&cfg.ReusePort, "reuseport", false, "set SO_REUSEPORT on listener")
	workers := flag.Int("workers", runtime.NumCPU(), "GOMAXPROCS")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	cfg.Logger = log

	if *workers > 0 {
		runtime.GOMAXPROCS(*workers)
	}

	r := router.New(log)
	r.Handle("/", func(c *router.Context) {
		c.Send(200, []byte("hello"))
	})

	srv, err := server.New(cfg, r.Serve)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		stop()
		os.Exit(1)
	}
}
