package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/observability/tracing"
	"github.com/signalmax/signalmax/pkg/resilience"
)

const sqsMaxBatchEntries = 10

// SQSConfig configures the SQS gateway.
type SQSConfig struct {
	Region           string
	QueueURL         string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	// Breaker stops enqueueing after repeated transport failures.
	Breaker resilience.Config
}

type sqsAPI interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSGateway enqueues one delivery message per token for a downstream sender.
// A token counts as successful once the queue accepted its message.
type SQSGateway struct {
	client  sqsAPI
	cfg     SQSConfig
	breaker *resilience.Breaker
	log     logger.Logger
}

// Cosa fa: crea il gateway SQS con endpoint custom opzionale.
// Cosa NON fa: non crea la coda e non consuma i messaggi.
func NewSQSGateway(cfg SQSConfig, log logger.Logger) (*SQSGateway, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue URL is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return newSQSGateway(sqs.NewFromConfig(awsCfg, opts...), cfg, log), nil
}

func newSQSGateway(client sqsAPI, cfg SQSConfig, log logger.Logger) *SQSGateway {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "push-sqs"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	return &SQSGateway{client: client, cfg: cfg, breaker: resilience.New(cfg.Breaker, log), log: logger.OrNop(log)}
}

type sqsDelivery struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send enqueues tokens in batches of ten messages. Entries rejected by the queue are
// reported as failures; a transport error aborts the send.
func (g *SQSGateway) Send(ctx context.Context, tokens []string, n Notification) (rep Report, err error) {
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem("sqs"),
		tracing.WithMessagingDestination(g.cfg.QueueURL),
		tracing.WithCount("messaging.batch.message_count", len(tokens)),
	)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
	}()

	for start := 0; start < len(tokens); start += sqsMaxBatchEntries {
		end := start + sqsMaxBatchEntries
		if end > len(tokens) {
			end = len(tokens)
		}
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, token := range tokens[start:end] {
			body, err := json.Marshal(sqsDelivery{Token: token, Title: n.Title, Body: n.Body, Data: n.Data})
			if err != nil {
				return rep, err
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(string(body)),
			})
		}

		var out *sqs.SendMessageBatchOutput
		err := g.breaker.Execute(ctx, func(ctx context.Context) error {
			opCtx, cancel := context.WithTimeout(ctx, g.cfg.OperationTimeout)
			defer cancel()
			var sendErr error
			out, sendErr = g.client.SendMessageBatch(opCtx, &sqs.SendMessageBatchInput{QueueUrl: aws.String(g.cfg.QueueURL), Entries: entries})
			return sendErr
		})
		if err != nil {
			return rep, fmt.Errorf("failed to enqueue push batch: %w", err)
		}
		rep.SuccessCount += len(out.Successful)
		for _, failed := range out.Failed {
			rep.FailureCount++
			if idx, err := strconv.Atoi(aws.ToString(failed.Id)); err == nil && idx >= 0 && idx < len(tokens) {
				rep.FailedTokens = append(rep.FailedTokens, tokens[idx])
			}
			g.log.Warn("sqs rejected push entry", "code", aws.ToString(failed.Code), "message", aws.ToString(failed.Message))
		}
	}
	return rep, nil
}

// HealthCheck verifies the queue is reachable.
func (g *SQSGateway) HealthCheck(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	_, err := g.client.GetQueueAttributes(opCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(g.cfg.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (g *SQSGateway) Close() error { return nil }
