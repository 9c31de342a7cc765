package sqsqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Mailer hands rendered fallback messages to the notification service's queue
// for actual email delivery.
type Mailer struct {
	SQS      *sqs.Client
	QueueURL string
	From     string
}

type mailJob struct {
	UserID   string `json:"userId"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	TextBody string `json:"textBody"`
	HTMLBody string `json:"htmlBody"`
}

func (m *Mailer) Send(ctx context.Context, userID, subject, textBody, htmlBody string) error {
	body, err := json.Marshal(mailJob{
		UserID: userID, From: m.From, Subject: subject,
		TextBody: textBody, HTMLBody: htmlBody,
	})
	if err != nil {
		return err
	}
	_, err = m.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &m.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}
