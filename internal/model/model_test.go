package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventFingerprintStable(t *testing.T) {
	a := Event{ChainID: 1, BlockHash: "0xabc", TransactionHash: "0xdef", LogIndex: 2}
	b := Event{ChainID: 1, BlockHash: "0xabc", TransactionHash: "0xdef", LogIndex: 2, Data: "0xff"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestEventFingerprintDiffersOnLogIndex(t *testing.T) {
	a := Event{ChainID: 1, BlockHash: "0xabc", TransactionHash: "0xdef", LogIndex: 0}
	b := Event{ChainID: 1, BlockHash: "0xabc", TransactionHash: "0xdef", LogIndex: 1}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestTopic0Anonymous(t *testing.T) {
	e := Event{}
	assert.Equal(t, "", e.Topic0())

	e.Topics = []string{"0xddf2"}
	assert.Equal(t, "0xddf2", e.Topic0())
}
