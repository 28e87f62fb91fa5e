// Command probot-lambda serves GitHub webhooks from AWS Lambda behind an
// API Gateway HTTP API or a function URL.
//
// Configuration comes from environment variables, or from the file named by
// PROBOT_GW_CONFIG. Credentials are fetched on the first delivery and reused
// for the life of the execution environment.
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/gateway"
	"github.com/mattjoyce/probot-gw/internal/log"
)

const envConfigPath = "PROBOT_GW_CONFIG"

func main() {
	cfg, err := config.LoadOrEnv(os.Getenv(envConfigPath))
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)

	gw, err := gateway.Build(cfg, log.Get())
	if err != nil {
		log.WithComponent("lambda").Error("failed to assemble gateway", "error", err)
		os.Exit(1)
	}

	lambda.Start(httpadapter.NewV2(gw.Server.Handler()).ProxyWithContext)
}
