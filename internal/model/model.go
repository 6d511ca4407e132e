// Package model defines the data-model entities shared across the
// ingestor, processor, and deliverer: the materialized Event, the
// DeliveryJob queue payload, and the DeliveryAttempt audit row. The
// catalog entities (User, Application, Endpoint) live in
// internal/catalog because they are gorm-mapped; these are plain
// value types carried over streams.
package model

import "fmt"

// Event is a materialized on-chain log record. Its Fingerprint is the
// stable idempotence key for ingestion.
type Event struct {
	ChainID         uint64   `json:"chain_id"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TransactionHash string   `json:"transaction_hash"`
	LogIndex        uint64   `json:"log_index"`
	TransactionIdx  uint64   `json:"-"`
	ContractAddress string   `json:"contract_address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockTimestamp  int64    `json:"timestamp"`
	IngestedAtMilli int64    `json:"-"`
}

// Fingerprint returns the stable idempotence key (chain_id, block_hash,
// transaction_hash, log_index) described in spec §3.
func (e Event) Fingerprint() string {
	return fmt.Sprintf("%d:%s:%s:%d", e.ChainID, e.BlockHash, e.TransactionHash, e.LogIndex)
}

// Topic0 returns the event's first topic, or "" for anonymous events.
func (e Event) Topic0() string {
	if len(e.Topics) == 0 {
		return ""
	}
	return e.Topics[0]
}

// DeliveryJob is the immutable queue payload produced by the processor
// and consumed by the deliverer. attempt_number is always 1 on the
// wire; in-process retries increment a local counter, never the queue
// payload (spec §4.H, Design Notes).
type DeliveryJob struct {
	JobID              string `json:"job_id"`
	EndpointID         string `json:"endpoint_id"`
	ApplicationID      string `json:"application_id"`
	WebhookURL         string `json:"webhook_url"`
	HMACSecret         string `json:"hmac_secret"`
	Event              Event  `json:"event"`
	AttemptNumber      int    `json:"attempt_number"`
	MaxRetries         int    `json:"max_retries"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	RateLimitPerSecond int    `json:"rate_limit_per_second"`
}

// DeliveryAttempt is an append-only audit row, one per outbound HTTP
// attempt (or skipped attempt) regardless of outcome.
type DeliveryAttempt struct {
	ID                 string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID            string `gorm:"index"`
	EndpointID         string `gorm:"index"`
	AttemptNumber      int
	HTTPStatusCode     *int
	ResponseBodyPrefix string
	ErrorMessage       string
	DurationMs         int64
	Success            bool
	AttemptedAtMilli   int64
}
