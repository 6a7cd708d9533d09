package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/callwise/callflow/pkg/handlers/queuetransfer"
	"github.com/callwise/callflow/pkg/handlers/telephony"
	"github.com/callwise/callflow/pkg/models"
	"github.com/callwise/callflow/pkg/registry"
)

// RegistryConfig carries the external endpoints the live action handlers
// talk to.
type RegistryConfig struct {
	TelephonyURL    string
	TelephonyAPIKey string
	RedisURL        string
}

// NewActionRegistry wires the live action handlers: telephony commands over
// HTTP and agent queues over Redis.
func NewActionRegistry(logger *slog.Logger, cfg RegistryConfig) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	client := telephony.NewClient(cfg.TelephonyURL, cfg.TelephonyAPIKey)
	reg.Register(models.SubtypeExternalTransfer, telephony.NewExternalTransferHandler(client, logger))
	reg.Register(models.SubtypePlayAudio, telephony.NewPlayAudioHandler(client, logger))
	reg.Register(models.SubtypeTextToSpeech, telephony.NewTextToSpeechHandler(client, logger))
	reg.Register(models.SubtypeCollectInput, telephony.NewCollectInputHandler(client, logger))

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	reg.Register(models.SubtypeQueueTransfer, queuetransfer.NewHandler(redis.NewClient(redisOpts), logger))

	return reg, nil
}
