package main

import (
	"context"
	"flag"
	"log"

	"pitchpipe/internal/config"
	"pitchpipe/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	socketPath := flag.String("socket", "", "override the IPC socket path")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := *logLevel
	if level == "" {
		level = cfg.Logging.Level
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:   level,
		SocketPath: *socketPath,
	}); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
