package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ipcasj/ethhook-sub002/internal/chainrpc"
	"github.com/ipcasj/ethhook-sub002/internal/model"
)

func decodeHeader(raw json.RawMessage, out *chainrpc.Header) error {
	return json.Unmarshal(raw, out)
}

// expandBlock implements spec §4.A's per-block expansion: fetch the
// full block, fetch each transaction's receipt, extract logs, dedup,
// and publish in ascending (transaction_index, log_index) order.
func (t *task) expandBlock(ctx context.Context, client *chainrpc.Client, blockNumber uint64) error {
	var block chainrpc.Block
	if err := client.Call(ctx, &block, "eth_getBlockByNumber", fmt.Sprintf("0x%x", blockNumber), true); err != nil {
		return fmt.Errorf("getBlockByNumber(%d): %w", blockNumber, err)
	}

	type pending struct {
		txIndex uint64
		entries []model.Event
	}
	var perTx []pending

	for _, txn := range block.Transactions {
		txIndex, err := txn.IndexUint()
		if err != nil {
			log.Warn("ingestor skipping transaction with malformed index", "tx", txn.Hash, "err", err)
			continue
		}

		var receipt chainrpc.Receipt
		if err := client.Call(ctx, &receipt, "eth_getTransactionReceipt", txn.Hash); err != nil {
			return fmt.Errorf("getTransactionReceipt(%s): %w", txn.Hash, err)
		}

		events, err := t.logsToEvents(ctx, block, receipt)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			perTx = append(perTx, pending{txIndex: txIndex, entries: events})
		}
	}

	sort.Slice(perTx, func(i, j int) bool { return perTx[i].txIndex < perTx[j].txIndex })

	for _, p := range perTx {
		for _, e := range p.entries {
			// never skip a fingerprint on publish failure (spec §4.A): the
			// fingerprint is already marked in the dedup index, so the
			// publish is retried until it succeeds or ctx is canceled.
			for {
				_, err := t.stream.PublishEvent(ctx, e)
				if err == nil {
					break
				}
				log.Error("ingestor publish failed, retrying", "chain", t.chain.Name, "event_id", e.Fingerprint(), "err", err)
				select {
				case <-time.After(t.cfg.BackoffBase):
				case <-ctx.Done():
					return fmt.Errorf("publish event %s: %w", e.Fingerprint(), err)
				}
			}
		}
	}
	return nil
}

func (t *task) logsToEvents(ctx context.Context, block chainrpc.Block, receipt chainrpc.Receipt) ([]model.Event, error) {
	blockNumber, err := parseHex(block.Number)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	timestamp, err := parseHex(block.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block timestamp: %w", err)
	}

	var events []model.Event
	for _, l := range receipt.Logs {
		if l.Removed {
			continue
		}
		logIndex, err := l.LogIndexUint()
		if err != nil {
			log.Warn("ingestor skipping log with malformed index", "tx", receipt.TransactionHash, "err", err)
			continue
		}

		e := model.Event{
			ChainID:         t.chain.ChainID,
			BlockNumber:     blockNumber,
			BlockHash:       strings.ToLower(block.Hash),
			TransactionHash: strings.ToLower(receipt.TransactionHash),
			LogIndex:        logIndex,
			ContractAddress: strings.ToLower(l.Address),
			Topics:          lowerAll(l.Topics),
			Data:            l.Data,
			BlockTimestamp:  int64(timestamp),
		}

		first, err := t.dedup.SeenOrMark(ctx, e.Fingerprint())
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if !first {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
