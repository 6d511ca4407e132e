package streams

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ipcasj/ethhook-sub002/internal/model"
)

// DeliveryQueueStreamName is the single shared stream of spec §6.
const DeliveryQueueStreamName = "delivery-queue"

// deliveryQueueMaxLen bounds retention the same way the raw-event
// streams are bounded.
const deliveryQueueMaxLen = 1_000_000

// DeliveryQueue publishes and consumes DeliveryJob records on the
// single shared stream. ConsumerGroup defaults to "webhook_deliverers"
// per spec §6.
type DeliveryQueue struct {
	*Client
}

// NewDeliveryQueue binds a client to the shared delivery-queue stream.
func NewDeliveryQueue(rdb *redis.Client, group, consumer string) *DeliveryQueue {
	return &DeliveryQueue{Client: New(rdb, DeliveryQueueStreamName, group, consumer)}
}

// PublishJob appends one DeliveryJob, assigning it an opaque id used
// later as the X-Webhook-Id header (spec §6). The job's wire
// AttemptNumber is always 1; in-process retries never mutate the
// queue payload (spec §4.H, Design Notes).
func (q *DeliveryQueue) PublishJob(ctx context.Context, job model.DeliveryJob) (string, error) {
	job.AttemptNumber = 1
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal delivery job: %w", err)
	}
	return q.Publish(ctx, deliveryQueueMaxLen, map[string]interface{}{"job": string(payload)})
}

// PublishJobs appends every job in jobs through a single pipelined
// round trip (spec §4.G: "use pipelining when emitting N jobs for one
// event"), each assigned an opaque id and a wire AttemptNumber of 1
// the same way PublishJob does a single job.
func (q *DeliveryQueue) PublishJobs(ctx context.Context, jobs []model.DeliveryJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	values := make([]map[string]interface{}, len(jobs))
	for i, job := range jobs {
		job.AttemptNumber = 1
		if job.JobID == "" {
			job.JobID = uuid.NewString()
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal delivery job: %w", err)
		}
		values[i] = map[string]interface{}{"job": string(payload)}
	}
	return q.PublishBatch(ctx, deliveryQueueMaxLen, values)
}

// DecodeJob extracts the DeliveryJob embedded in a stream entry. A
// decode failure indicates a poison message.
func DecodeJob(entry Entry) (model.DeliveryJob, error) {
	raw, _ := entry.Values["job"].(string)
	var job model.DeliveryJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return model.DeliveryJob{}, fmt.Errorf("unmarshal delivery job: %w", err)
	}
	return job, nil
}
