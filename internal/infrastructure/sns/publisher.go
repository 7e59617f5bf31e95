package sns

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aurax-platform/identity-api/internal/config"
)

// OpsPublisher pushes operational notifications (new registrations, linked
// accounts) to an SNS topic the ops team subscribes to. Publishing is always
// best-effort for callers.
type OpsPublisher interface {
	Publish(ctx context.Context, subject, message string) error
}

type publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(cfg *config.Config) (OpsPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &publisher{client: sns.NewFromConfig(awsCfg), topicARN: cfg.SNSTopicARN}, nil
}

func (p *publisher) Publish(ctx context.Context, subject, message string) error {
	if p.topicARN == "" {
		return nil
	}
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	return err
}
