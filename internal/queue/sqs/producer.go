// Package sqsqueue decouples the scanner from publish execution. The scanner
// claims a record, then enqueues its id; a consumer on the worker runs the
// attempt. Claim-before-enqueue ordering keeps dispatch de-duplicated.
package sqsqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"postflow/internal/store"
)

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

// PublishJob carries only the claimed schedule id; the consumer re-reads the
// record so stale queue payloads can't override current state.
type PublishJob struct {
	ScheduleID string `json:"scheduleId"`
}

// Dispatch satisfies the scanner's dispatcher port.
func (p *Producer) Dispatch(ctx context.Context, rec store.ScheduleRecord) error {
	return p.Enqueue(ctx, rec.ID)
}

func (p *Producer) Enqueue(ctx context.Context, scheduleID string) error {
	body, err := json.Marshal(PublishJob{ScheduleID: scheduleID})
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
