// cmd/inventory-service/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/tracing"
)

const serviceName = "inventory-service"

func main() {
	logger.Init(logger.Config{Level: bootstrap.Getenv("LOG_LEVEL", "info"), Service: serviceName})

	shutdown, err := tracing.Setup(bootstrap.Getenv("TRACING_ENABLED", "") == "true", serviceName,
		bootstrap.Getenv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	seed, err := parseSeed(bootstrap.Getenv("STOCK_SEED", "101=10,102=5"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid STOCK_SEED")
	}
	port, err := strconv.Atoi(bootstrap.Getenv("HTTP_PORT", "8000"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid HTTP_PORT")
	}

	err = bootstrap.StartService(context.Background(), bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        port,
		Handler:     newStockHandler(newStockStore(seed)).routes(),
		Closers:     []bootstrap.Closer{bootstrap.Closer(shutdown)},
	})
	if err != nil {
		log.Error().Err(err).Msg("inventory service exited")
		os.Exit(1)
	}
}

// parseSeed 解析 "101=10,102=5" 形式的初始库存
func parseSeed(raw string) (map[int64]int, error) {
	seed := make(map[int64]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, qty, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected product=quantity, got %q", pair)
		}
		productID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("product id %q: %w", id, err)
		}
		quantity, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || quantity < 0 {
			return nil, fmt.Errorf("quantity %q is not a non-negative integer", qty)
		}
		seed[productID] = quantity
	}
	return seed, nil
}
