package main

import (
	"fmt"
	"os"

	"frameworks/api_messaging/internal/ctl"
	"frameworks/pkg/config"
	"frameworks/pkg/logging"
)

func main() {
	logger := logging.NewLoggerWithService("bosunctl")
	config.LoadEnv(logger)

	if err := ctl.NewRootCmd(ctl.PostgresOpener(logger), logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
