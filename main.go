package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"nfcom/cmd"
	"nfcom/internal/config"
	"nfcom/internal/logger"
)

const parametersPrefix = "/nfcom/prod/"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Production settings live in SSM Parameter Store
	if os.Getenv("APP_ENV") == "production" {
		loadParameters()
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use default logger config if main config fails; commands report the error
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	cmd.Execute()
}

func loadParameters() {
	ctx := context.Background()
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "sa-east-1"
	}
	client, err := config.NewSSMClient(ctx, region)
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	prefix := os.Getenv("SSM_PREFIX")
	if prefix == "" {
		prefix = parametersPrefix
	}
	n, err := config.LoadParameters(ctx, client, prefix)
	if err != nil {
		log.Fatalf("unable to load prod environment, %v", err)
	}
	log.Printf("loaded %d prod environment variables", n)
}
