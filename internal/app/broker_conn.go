package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/connector/internal/broker"
	"github.com/flowkit/connector/internal/broker/mqtt"
	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/connerr"
)

// NewConnection builds the concrete broker.Connection named by
// cfg.BrokerType. "mqtt" is the only driver this runtime ships;
// anything else is a configuration error rather than a silent no-op
// connection.
func NewConnection(cfg *config.Broker, logger *slog.Logger) (broker.Connection, error) {
	switch cfg.BrokerType {
	case "", "mqtt":
		return mqtt.New(mqtt.Config{
			BrokerURL:            cfg.URL,
			Username:             cfg.Username,
			Password:             cfg.Password,
			ReconnectionStrategy: cfg.ReconnectionStrategy,
			RetryInterval:        time.Duration(cfg.RetryInterval) * time.Millisecond,
			RetryCount:           cfg.RetryCount,
		}, logger), nil
	default:
		return nil, connerr.NewConfigError(fmt.Errorf("app: unknown broker_type %q", cfg.BrokerType))
	}
}

func payloadEncoding(s string) broker.PayloadEncoding {
	if s == "" {
		return broker.EncodingUTF8
	}
	return broker.PayloadEncoding(s)
}

func payloadFormat(s string) broker.PayloadFormat {
	if s == "" {
		return broker.FormatJSON
	}
	return broker.PayloadFormat(s)
}
