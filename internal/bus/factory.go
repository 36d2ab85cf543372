package bus

import (
	"fmt"
	"strings"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.ValidationError("kafka brokers not configured", nil)
		}

		clientID := cfg.ClientID
		if clientID == "" {
			clientID = "research-assistant"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: clientID + "-consumers",
			ClientID:      clientID,
		}, log)

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown bus type: %s", cfg.Type), nil)
	}
}
