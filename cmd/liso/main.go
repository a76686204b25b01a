// Command liso runs the Liso HTTP/1.1 server: a single process serving
// static content over plaintext and TLS, with persistent connections,
// pipelining, and CGI dispatch.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/fabubaker/LISO-Server/internal/config"
	"github.com/fabubaker/LISO-Server/internal/eventloop"
	"github.com/fabubaker/LISO-Server/internal/logging"
)

func main() {
	cfg, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "liso: opening log file:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := writeLockFile(cfg.LockPath); err != nil {
		logger.Error("writing lock file failed", zap.Error(err))
		os.Exit(1)
	}
	defer os.Remove(cfg.LockPath)

	loop, err := eventloop.New(cfg, logger)
	if err != nil {
		logger.Error("event loop setup failed", zap.Error(err))
		os.Exit(1)
	}

	// SIGPIPE must never terminate the process: a client closing its
	// read side mid-write must surface as a write error, not a signal.
	signal.Ignore(syscall.SIGPIPE)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigint
		logger.Info("shutdown signal received")
		loop.RequestShutdown()
	}()

	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, syscall.SIGCHLD)
	go func() {
		for range sigchld {
			loop.NotifyChildExited()
		}
	}()

	logger.Info("liso starting",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("https_port", cfg.HTTPSPort),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
		zap.String("doc_root", cfg.DocRoot),
	)

	if err := loop.Run(); err != nil {
		logger.Error("event loop exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func writeLockFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
