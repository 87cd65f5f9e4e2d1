package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/server"
)

func main() {
	path := flag.String("config", "", "path to wampd.toml (default ./wampd.toml when present)")
	addr := flag.String("addr", "", "HTTP/websocket listen address, overrides [http] addr")
	raw := flag.String("rawsocket", "", "rawsocket listen address, overrides [rawsocket] addr")
	realm := flag.String("realm", "", "realm name, overrides [router] realm")
	flag.Parse()

	logger := observability.InitLogger("wampd")
	cfg, err := loadServiceConfig(*path, overrides{addr: *addr, rawsocket: *raw, realm: *realm})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wampd: %v\n", err)
		os.Exit(1)
	}
	svc, err := server.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wampd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info().
		Str("realm", string(cfg.Realm)).
		Str("http", cfg.HTTP.Addr).
		Str("rawsocket", cfg.RawSocket.Addr).
		Str("quic", cfg.QUIC.Addr).
		Msg("wampd starting")
	if err := svc.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wampd: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg("wampd stopped")
}
