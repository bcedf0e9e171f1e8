// Package awsutil loads AWS configuration and builds service clients.
package awsutil

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients bundles the AWS clients the pipeline talks to.
type Clients struct {
	DynamoDB *dynamodb.Client
	SQS      *sqs.Client
}

// Load loads the default AWS configuration for region. A non-empty endpoint
// (for example http://localhost:4566) points every client at it.
func Load(ctx context.Context, region, endpoint string) (Clients, error) {
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
	if err != nil {
		return Clients{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewClients(cfg, endpoint), nil
}

// NewClients builds clients from cfg, overriding the endpoint when set.
func NewClients(cfg aws.Config, endpoint string) Clients {
	ddb := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	queue := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return Clients{DynamoDB: ddb, SQS: queue}
}
