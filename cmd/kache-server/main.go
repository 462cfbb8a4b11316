// Command kache-server runs the in-memory data server described in this
// module's root package.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	kache "github.com/sakkshm/kache"
)

func main() {
	configPath := flag.String("config", "", "optional path to a TOML configuration file")
	debug := flag.Bool("debug", false, "enable debug invariant assertions")
	flag.Parse()

	cfg, err := kache.LoadConfig(*configPath)
	if err != nil {
		log.Fatalln("could not load config:", err.Error())
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalln("could not build logger:", err.Error())
	}
	defer logger.Sync()

	if !*debug {
		kache.SetDebugAssertEnabled(false)
	}

	srv, err := kache.NewServer(cfg, logger)
	if err != nil {
		log.Fatalln("could not start server:", err.Error())
	}
	defer srv.Close()

	logger.Info("listening", zap.String("addr", cfg.ListenAddr))

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	if err := srv.Run(stop); err != nil {
		logger.Fatal("reactor exited with error", zap.Error(err))
	}
}
