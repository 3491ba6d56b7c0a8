package main

import (
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"

	"fertiscan/cmd"
	"fertiscan/internal/config"
	"fertiscan/internal/logger"
)

func main() {
	os.Exit(run())
}

// run is separate from main so deferred cleanup happens before os.Exit.
func run() int {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	logConfig := logger.DefaultConfig()
	cfg, err := config.Load("")
	if err != nil {
		log.Printf("Warning: Could not load configuration: %v", err)
	} else {
		logConfig = cfg.GetLoggerConfig()
	}

	closer, err := logger.Setup(logConfig)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer func(c io.Closer) {
		if err := c.Close(); err != nil {
			log.Printf("Warning: Could not close log output: %v", err)
		}
	}(closer)

	mainLog := logger.WithComponent("main")
	mainLog.Debug().Msg("Starting fertiscan")

	return cmd.Execute(cfg)
}
