package chainrpc

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is the push payload of an eth_subscription("newHeads")
// notification; only BlockNumber is needed to drive per-block
// expansion (spec §4.A).
type Header struct {
	Number string `json:"number"`
	Hash   string `json:"hash"`
}

// BlockNumber parses the 0x-prefixed hex block number.
func (h Header) BlockNumber() (uint64, error) { return parseHexUint(h.Number) }

// Block is the result of eth_getBlockByNumber(B, true): full
// transaction objects, of which only the hash and index are used.
type Block struct {
	Number       string        `json:"number"`
	Hash         string        `json:"hash"`
	Timestamp    string        `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

type Transaction struct {
	Hash             string `json:"hash"`
	TransactionIndex string `json:"transactionIndex"`
}

// Receipt is the result of eth_getTransactionReceipt.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	Logs            []Log  `json:"logs"`
}

// Log is one entry of a receipt's logs[], the raw record the
// ingestor turns into a model.Event.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockHash   string   `json:"blockHash"`
	BlockNumber string   `json:"blockNumber"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	return strconv.ParseUint(s, 16, 64)
}

// LogIndexUint parses the log's 0x-prefixed hex log index.
func (l Log) LogIndexUint() (uint64, error) { return parseHexUint(l.LogIndex) }

// IndexUint parses the transaction's 0x-prefixed hex index.
func (t Transaction) IndexUint() (uint64, error) { return parseHexUint(t.TransactionIndex) }
