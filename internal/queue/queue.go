package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/longcut/internal/models"
)

const (
	QueueAssembleRun = "queue:assemble_run"

	JobTypeAssembleRun = "assemble_run"
)

type Queue struct {
	client *redis.Client
}

// Job carries one pipeline run through Redis.
type Job struct {
	ID        uuid.UUID                `json:"id"`
	Type      string                   `json:"type"`
	RunID     uuid.UUID                `json:"run_id"`
	Request   *models.CreateRunRequest `json:"request"`
	CreatedAt time.Time                `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// Dequeue blocks up to timeout for the next job. A nil job with a nil error
// means the wait timed out.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeJob([]byte(result[1]))
}

func (q *Queue) Length(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueAssembleRun schedules a full pipeline run.
func (q *Queue) EnqueueAssembleRun(ctx context.Context, runID uuid.UUID, req *models.CreateRunRequest) error {
	return q.Enqueue(ctx, QueueAssembleRun, &Job{
		ID:      uuid.New(),
		Type:    JobTypeAssembleRun,
		RunID:   runID,
		Request: req,
	})
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Request == nil {
		return nil, fmt.Errorf("job %s has no run request", job.ID)
	}
	return &job, nil
}
