package main

import (
	"os"

	"github.com/timmy/kbpipe/internal/logger"
)

func main() {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "kbpipe-worker"
	logger.SetDefaultLogger(logger.NewFromEnv(envCfg))
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
