package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/unwarphq/unwarp/internal/domain"
)

const TypeProcessImage = "image:process"

type ProcessImagePayload struct {
	ImageID      string               `json:"image_id"`
	OriginalKey  string               `json:"original_key"`
	Filename     string               `json:"filename"`
	CornerPoints []domain.CornerPoint `json:"corner_points"`
	WebhookURL   string               `json:"webhook_url,omitempty"`
	RequestedAt  time.Time            `json:"requested_at"`
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
