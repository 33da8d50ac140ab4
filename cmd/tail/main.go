package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docflow/internal/config"
	"docflow/internal/rabbitmq"
)

// tailEvent mirrors the fields the emitter publishes; unknown fields are
// dropped rather than failing the tail.
type tailEvent struct {
	Event      string `json:"event"`
	JobID      string `json:"jobId"`
	DocumentID string `json:"documentId"`
	JobType    string `json:"jobType"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	client, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer client.Close()

	if err := client.DeclareExchange(cfg.RabbitMQ.ExchangeName, "topic"); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare events exchange")
	}

	deliveries, err := client.Subscribe(cfg.RabbitMQ.ExchangeName, "jobs.#", "events-tail")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe")
	}

	go func() {
		log.Info().Str("exchange", cfg.RabbitMQ.ExchangeName).Msg("Tailing job events. Press CTRL+C to exit.")

		for delivery := range deliveries {
			var ev tailEvent
			if err := json.Unmarshal(delivery.Body, &ev); err != nil {
				log.Error().Err(err).Str("routingKey", delivery.RoutingKey).Msg("Failed to unmarshal event")
				continue
			}

			entry := log.Info().
				Str("event", ev.Event).
				Str("jobID", ev.JobID).
				Str("documentID", ev.DocumentID).
				Str("type", ev.JobType)
			if ev.Progress > 0 {
				entry = entry.Int("progress", ev.Progress)
			}
			if ev.Error != "" {
				entry = entry.Str("error", ev.Error)
			}
			entry.Msg("Job event")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
}
