package main

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/banmdev/ccxtbots/internal/modules/config"
	"github.com/banmdev/ccxtbots/internal/modules/health"
	"github.com/banmdev/ccxtbots/internal/modules/metrics"
	"github.com/banmdev/ccxtbots/internal/modules/postgres"
	"github.com/banmdev/ccxtbots/internal/modules/telegram"
	"github.com/banmdev/ccxtbots/internal/modules/trading"
	"github.com/banmdev/ccxtbots/pkg/logger"
	"github.com/banmdev/ccxtbots/pkg/tracing"
)

const serviceName = "ccxtbots"

func main() {
	_ = godotenv.Load()

	logger.SetServiceName(serviceName)
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	tracing.SetServiceName(serviceName)
	jaegerHost := os.Getenv("JAEGER_AGENT_HOST")
	if jaegerHost != "" {
		port := 6831
		if v := os.Getenv("JAEGER_AGENT_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				port = p
			}
		}
		_, closeTracer, err := tracing.InitTracer(tracing.Config{Host: jaegerHost, Port: port})
		if err != nil {
			logger.Fatal("init tracer: %v", err)
		}
		defer closeTracer()
	}

	app := fx.New(
		config.Module(),
		postgres.Module(),
		metrics.Module(),
		telegram.Module(),
		health.Module(),
		trading.Module(),
	)
	app.Run()
}
