package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeConvertImage = "image:convert"

type ConvertImagePayload struct {
	JobID       string                 `json:"job_id"`
	UserID      string                 `json:"user_id,omitempty"`
	SourceType  string                 `json:"source_type"`
	SourceURL   string                 `json:"source_url,omitempty"`
	ObjectKey   string                 `json:"object_key,omitempty"`
	WebhookURL  string                 `json:"webhook_url,omitempty"`
	Convert     domain.ConvertSettings `json:"convert"`
	RequestedAt time.Time              `json:"requested_at"`
}

func NewConvertImageTask(payload ConvertImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertImage, body), nil
}

func ParseConvertImagePayload(task *asynq.Task) (ConvertImagePayload, error) {
	var payload ConvertImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertImagePayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}

// PayloadFromJob captures everything the worker needs so it never has to read
// the job store before converting.
func PayloadFromJob(job domain.Job, requestedAt time.Time) ConvertImagePayload {
	return ConvertImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		SourceURL:   job.SourceURL,
		ObjectKey:   job.ObjectKey,
		WebhookURL:  job.WebhookURL,
		Convert:     job.Convert,
		RequestedAt: requestedAt,
	}
}
