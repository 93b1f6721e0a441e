package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lvgrader/grader/internal/model"
)

// SQSSink sends every event as one SQS message body to queueURL. Grounded
// on sqsgath, generalized from the teacher's per-message-kind types into
// one JSON-encoded model.Event per message.
func SQSSink(client *sqs.Client, queueURL string, log *slog.Logger) func(model.Event) {
	return func(ev model.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Error("marshal event", "err", err)
			return
		}
		_, err = client.SendMessage(context.Background(), &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(string(b)),
		})
		if err != nil {
			log.Error("send sqs message", "queue", queueURL, "err", err)
		}
	}
}
