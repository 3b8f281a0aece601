package main

import (
	"context"
	"log"

	"sales-forecast/api/lambda"
	"sales-forecast/app"
	"sales-forecast/config"

	awslambda "github.com/aws/aws-lambda-go/lambda"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app.SetupLogging(cfg.LogLevel)

	a, _, err := app.FromConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	awslambda.Start(lambda.NewCollectorHandler(a.Collector).Handle)
}
