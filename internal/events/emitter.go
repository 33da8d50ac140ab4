// Package events publishes job lifecycle notifications to the real-time
// gateway. Emission is strictly fire-and-forget: a broker outage must never
// slow down or fail a processing job.
package events

import (
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"docflow/internal/model"
	"docflow/internal/rabbitmq"
)

// Emitter is the one-way notification sink the pipeline writes into. No
// return values are consumed by callers beyond logging.
type Emitter interface {
	JobStarted(job *model.ProcessingJob)
	JobProgress(job *model.ProcessingJob, progress int)
	JobCompleted(job *model.ProcessingJob, output map[string]interface{})
	JobFailed(job *model.ProcessingJob, errMessage string)
}

type jobEvent struct {
	Event          string                 `json:"event"`
	JobID          string                 `json:"jobId"`
	DocumentID     string                 `json:"documentId"`
	OrganizationID string                 `json:"organizationId"`
	JobType        model.JobType          `json:"jobType"`
	Status         model.JobStatus        `json:"status"`
	Progress       int                    `json:"progress,omitempty"`
	Output         map[string]interface{} `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// RabbitEmitter publishes job events to a topic exchange with routing keys
// of the form "jobs.<event>".
type RabbitEmitter struct {
	client   rabbitmq.Client
	exchange string
}

// NewRabbitEmitter declares the exchange and returns the emitter.
func NewRabbitEmitter(client rabbitmq.Client, exchange string) (*RabbitEmitter, error) {
	if err := client.DeclareExchange(exchange, "topic"); err != nil {
		return nil, err
	}

	return &RabbitEmitter{client: client, exchange: exchange}, nil
}

func (e *RabbitEmitter) publish(event string, payload jobEvent) {
	payload.Event = event
	payload.Timestamp = time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal job event")
		return
	}

	headers := amqp.Table{
		"organization_id": payload.OrganizationID,
		"document_id":     payload.DocumentID,
	}

	if err := e.client.Publish(e.exchange, "jobs."+event, body, headers); err != nil {
		// Swallowed on purpose: events are advisory.
		log.Warn().Err(err).Str("event", event).Str("jobID", payload.JobID).Msg("Dropped job event")
	}
}

func (e *RabbitEmitter) snapshot(job *model.ProcessingJob) jobEvent {
	return jobEvent{
		JobID:          job.ID,
		DocumentID:     job.DocumentID,
		OrganizationID: job.OrganizationID,
		JobType:        job.Type,
		Status:         job.Status,
	}
}

func (e *RabbitEmitter) JobStarted(job *model.ProcessingJob) {
	e.publish("started", e.snapshot(job))
}

func (e *RabbitEmitter) JobProgress(job *model.ProcessingJob, progress int) {
	ev := e.snapshot(job)
	ev.Progress = progress
	e.publish("progress", ev)
}

func (e *RabbitEmitter) JobCompleted(job *model.ProcessingJob, output map[string]interface{}) {
	ev := e.snapshot(job)
	ev.Output = output
	e.publish("completed", ev)
}

func (e *RabbitEmitter) JobFailed(job *model.ProcessingJob, errMessage string) {
	ev := e.snapshot(job)
	ev.Error = errMessage
	e.publish("failed", ev)
}

// NopEmitter discards every event. Used in tests and in binaries that run
// without a broker.
type NopEmitter struct{}

func (NopEmitter) JobStarted(*model.ProcessingJob)                           {}
func (NopEmitter) JobProgress(*model.ProcessingJob, int)                     {}
func (NopEmitter) JobCompleted(*model.ProcessingJob, map[string]interface{}) {}
func (NopEmitter) JobFailed(*model.ProcessingJob, string)                    {}
