package streams

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipcasj/ethhook-sub002/internal/model"
)

func TestDecodeEventRoundTrip(t *testing.T) {
	entry := Entry{
		ID: "1-0",
		Values: map[string]interface{}{
			"chain_id":         "1",
			"block_number":     "18000000",
			"block_hash":       "0xBLOCK",
			"transaction_hash": "0xTX",
			"log_index":        "0",
			"transaction_idx":  "3",
			"contract_address": "0xABC",
			"topics":           `["0xTOPIC0"]`,
			"data":             "0x00",
			"timestamp":        "1700000000",
			"ingested_at":      "1700000000000",
		},
	}

	e, err := DecodeEvent(entry)
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.ChainID)
	require.Equal(t, uint64(18000000), e.BlockNumber)
	require.Equal(t, "0xabc", e.ContractAddress, "contract address must be lowercased on decode")
	require.Equal(t, []string{"0xtopic0"}, e.Topics, "topics must be lowercased on decode")
}

func TestDecodeEventRejectsMalformedChainID(t *testing.T) {
	entry := Entry{Values: map[string]interface{}{"chain_id": "not-a-number"}}
	_, err := DecodeEvent(entry)
	require.Error(t, err)
}

func TestStreamNameIncludesChainID(t *testing.T) {
	require.Equal(t, "events:"+strconv.FormatUint(11155111, 10), RawEventStreamName(11155111))
}

func TestDecodeJobRoundTripViaPublishEncoding(t *testing.T) {
	job := model.DeliveryJob{
		JobID:          "j1",
		EndpointID:     "ep1",
		WebhookURL:     "https://example.com/hook",
		HMACSecret:     "s",
		AttemptNumber:  1,
		MaxRetries:     3,
		TimeoutSeconds: 5,
	}

	encoded, err := json.Marshal(job)
	require.NoError(t, err)

	decoded, err := DecodeJob(Entry{Values: map[string]interface{}{"job": string(encoded)}})
	require.NoError(t, err)
	require.Equal(t, job.JobID, decoded.JobID)
	require.Equal(t, job.WebhookURL, decoded.WebhookURL)
}
