package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// PollSQS feeds one Server's pending queue from an SQS queue, the
// alternate submission path spec.md's §4.6 ingress mentions alongside
// direct client connections. Grounded on cmd/test/test.go's
// ReceiveMessage/DeleteMessage loop, generalized from a hardcoded queue
// URL and EvaluationRequest shape to model.ExecutionRequest via
// ExecuteRequest's own JSON encoding, and from a fire-and-forget call
// into Server's Submit so a malformed or permanently-failed message still
// gets deleted instead of being redelivered forever.
func PollSQS(ctx context.Context, client *sqs.Client, queueURL string, server *Server, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			log.Error("sqs receive", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, message := range out.Messages {
			var req ExecuteRequest
			if err := json.Unmarshal([]byte(*message.Body), &req); err != nil {
				log.Error("sqs: malformed submission", "err", err)
				deleteMessage(ctx, client, queueURL, message.ReceiptHandle, log)
				continue
			}

			go func(req ExecuteRequest, receiptHandle *string) {
				reply := server.Submit(req)
				if reply.ErrorMessage != "" {
					log.Warn("sqs submission failed", "session_id", req.SessionID, "err", reply.ErrorMessage)
				}
				deleteMessage(ctx, client, queueURL, receiptHandle, log)
			}(req, message.ReceiptHandle)
		}
	}
}

func deleteMessage(ctx context.Context, client *sqs.Client, queueURL string, receiptHandle *string, log *slog.Logger) {
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		log.Error("sqs delete", "err", err)
	}
}
