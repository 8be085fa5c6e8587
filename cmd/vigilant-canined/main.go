// vigilant-canined is the host integrity daemon. It establishes file
// baselines, watches critical paths through fanotify, follows the systemd
// journal and kernel audit stream, and raises alerts for anything that
// deviates.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/daemon"
	"github.com/tonywalker1/vigilant-canine/pkg/logger"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	showVersion := pflag.BoolP("version", "v", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("vigilant-canined " + version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vigilant-canined:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Daemon.LogLevel)
	log.Info().Str("version", version).Str("config", *configPath).Msg("starting")

	d := daemon.New(*configPath, log)
	if err := d.Initialize(); err != nil {
		log.Error().Err(err).Msg("initialization failed")
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		log.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}
