package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Binance error codes
	codeRateLimited   = -1003
	codeInvalidSymbol = -1121
)

// Client implements the ports.ValuationFeed interface using the go-binance
// library. Only crypto assets resolve through it; other asset classes get
// their valuations from whatever feed the caller wires for them.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance feed adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance valuation feed adapter. Price lookups are public
// endpoints, so API keys are optional.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance valuation feed configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"testnet": cfg.UseTestnet,
	})

	return &Client{spotClient: client, logger: cfg.Logger}, nil
}

// LatestPrice retrieves the last ticker price for a symbol.
// Returns nil, nil when the symbol is unknown to the exchange.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (*domain.Quote, error) {
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, "LatestPrice", symbol)
	}
	if len(prices) == 0 {
		return nil, nil
	}

	price, err := domain.NewMoneyFromString(prices[0].Price)
	if err != nil {
		return nil, fmt.Errorf("ticker price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return &domain.Quote{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping", "")
	}
	return nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation, symbol string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}
	if symbol != "" {
		fields["symbol"] = symbol
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiCode"] = apiErr.Code
		switch apiErr.Code {
		case codeRateLimited:
			c.logger.Warn(ctx, "Binance rate limit exceeded", fields)
			return fmt.Errorf("%s: %w", operation, ports.ErrRateLimited)
		case codeInvalidSymbol:
			c.logger.Debug(ctx, "Symbol unknown to Binance", fields)
			return fmt.Errorf("%s %s: %w", operation, symbol, ports.ErrNotFound)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, ports.ErrContextCanceled)
	}

	c.logger.Error(ctx, err, "Binance API call failed", fields)
	return fmt.Errorf("%s: %w", operation, ports.ErrFeedUnavailable)
}
