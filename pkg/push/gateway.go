package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalmax/signalmax/pkg/observability/logger"
)

// Gateway drivers.
const (
	DriverLog  = "log"
	DriverHTTP = "http"
	DriverSQS  = "sqs"
)

// Config selects and configures a gateway driver.
type Config struct {
	Driver string
	HTTP   HTTPConfig
	SQS    SQSConfig
}

// NewGateway creates a gateway from configuration. An empty driver means "log".
func NewGateway(cfg Config, log logger.Logger) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverLog, "":
		return NewLogGateway(log), nil
	case DriverHTTP:
		return NewHTTPGateway(cfg.HTTP, log)
	case DriverSQS:
		return NewSQSGateway(cfg.SQS, log)
	default:
		return nil, fmt.Errorf("unsupported push driver: %s", cfg.Driver)
	}
}

// LogGateway accepts every token and only logs the send. Used in development.
type LogGateway struct {
	log logger.Logger
}

func NewLogGateway(log logger.Logger) *LogGateway {
	return &LogGateway{log: logger.OrNop(log)}
}

func (g *LogGateway) Send(ctx context.Context, tokens []string, n Notification) (Report, error) {
	g.log.WithContext(ctx).Info("push notification", "title", n.Title, "tokens", len(tokens))
	return Report{SuccessCount: len(tokens)}, nil
}

func (g *LogGateway) Close() error { return nil }
