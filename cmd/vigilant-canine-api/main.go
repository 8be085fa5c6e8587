// vigilant-canine-api serves the read-only query API over a Unix domain
// socket. It runs separately from the daemon and shares only the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tonywalker1/vigilant-canine/pkg/api"
	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/logger"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	socketPath := pflag.StringP("socket", "s", api.DefaultSocketPath, "Unix socket to listen on")
	dbPath := pflag.StringP("database", "d", "", "database path (overrides the config file)")
	showVersion := pflag.BoolP("version", "v", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("vigilant-canine-api " + version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vigilant-canine-api:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Daemon.LogLevel)

	path := cfg.Daemon.DBPath
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := storage.Open(path, log)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	server := api.NewServer(*socketPath, db, log)
	if err := server.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start API server")
		os.Exit(1)
	}
	log.Info().Str("version", version).Str("socket", *socketPath).Msg("serving")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown was not clean")
	}
}
