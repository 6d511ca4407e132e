package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipcasj/ethhook-sub002/internal/model"
)

// RawEventStreamName returns the per-chain stream name "events:{chain_id}"
// from spec §6.
func RawEventStreamName(chainID uint64) string {
	return fmt.Sprintf("events:%d", chainID)
}

// rawEventsMaxLen bounds stream retention per spec §6 ("implementation-
// defined cap, e.g., 1M entries").
const rawEventsMaxLen = 1_000_000

// RawEventStream publishes and consumes Event records on one chain's
// stream. ConsumerGroup is fixed to "message_processors" per spec §6
// unless overridden by CONSUMER_GROUP.
type RawEventStream struct {
	*Client
}

// NewRawEventStream binds a client to chainID's stream with the given
// group/consumer.
func NewRawEventStream(rdb *redis.Client, chainID uint64, group, consumer string) *RawEventStream {
	return &RawEventStream{Client: New(rdb, RawEventStreamName(chainID), group, consumer)}
}

// PublishEvent appends one Event, encoding its fields as stream
// name/value pairs per spec §4.A step 5.
func (s *RawEventStream) PublishEvent(ctx context.Context, e model.Event) (string, error) {
	topics, err := json.Marshal(e.Topics)
	if err != nil {
		return "", fmt.Errorf("marshal topics: %w", err)
	}
	values := map[string]interface{}{
		"chain_id":         strconv.FormatUint(e.ChainID, 10),
		"block_number":     strconv.FormatUint(e.BlockNumber, 10),
		"block_hash":       e.BlockHash,
		"transaction_hash": e.TransactionHash,
		"log_index":        strconv.FormatUint(e.LogIndex, 10),
		"transaction_idx":  strconv.FormatUint(e.TransactionIdx, 10),
		"contract_address": e.ContractAddress,
		"topics":            string(topics),
		"data":              e.Data,
		"timestamp":         strconv.FormatInt(e.BlockTimestamp, 10),
		"ingested_at":       strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	return s.Publish(ctx, rawEventsMaxLen, values)
}

// DecodeEvent converts a raw stream entry back into an Event. A
// decode failure indicates a poison message per spec §4.G.
func DecodeEvent(entry Entry) (model.Event, error) {
	get := func(key string) string {
		v, _ := entry.Values[key].(string)
		return v
	}

	chainID, err := strconv.ParseUint(get("chain_id"), 10, 64)
	if err != nil {
		return model.Event{}, fmt.Errorf("chain_id: %w", err)
	}
	blockNumber, err := strconv.ParseUint(get("block_number"), 10, 64)
	if err != nil {
		return model.Event{}, fmt.Errorf("block_number: %w", err)
	}
	logIndex, err := strconv.ParseUint(get("log_index"), 10, 64)
	if err != nil {
		return model.Event{}, fmt.Errorf("log_index: %w", err)
	}
	transactionIdx, _ := strconv.ParseUint(get("transaction_idx"), 10, 64)

	var topics []string
	if raw := get("topics"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &topics); err != nil {
			return model.Event{}, fmt.Errorf("topics: %w", err)
		}
		for i, topic := range topics {
			topics[i] = strings.ToLower(topic)
		}
	}

	timestamp, _ := strconv.ParseInt(get("timestamp"), 10, 64)
	ingestedAt, _ := strconv.ParseInt(get("ingested_at"), 10, 64)

	return model.Event{
		ChainID:         chainID,
		BlockNumber:     blockNumber,
		BlockHash:       get("block_hash"),
		TransactionHash: get("transaction_hash"),
		LogIndex:        logIndex,
		TransactionIdx:  transactionIdx,
		ContractAddress: strings.ToLower(get("contract_address")),
		Topics:          topics,
		Data:            get("data"),
		BlockTimestamp:  timestamp,
		IngestedAtMilli: ingestedAt,
	}, nil
}
