package awsutil

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
)

func TestNewClients_EndpointOverride(t *testing.T) {
	cfg := aws.Config{Region: "us-east-1"}

	local := NewClients(cfg, "http://localhost:4566")
	assert.Equal(t, "http://localhost:4566", aws.ToString(local.DynamoDB.Options().BaseEndpoint))
	assert.Equal(t, "http://localhost:4566", aws.ToString(local.SQS.Options().BaseEndpoint))

	remote := NewClients(cfg, "")
	assert.Nil(t, remote.DynamoDB.Options().BaseEndpoint)
	assert.Nil(t, remote.SQS.Options().BaseEndpoint)
}
