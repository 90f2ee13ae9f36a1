package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/studio-booking/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "eu-central-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)

	ep, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint(s3.ServiceID, "eu-central-1")
	require.NoError(t, err)
	assert.True(t, ep.HostnameImmutable)

	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("Bedrock Runtime", "eu-central-1")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadAWSConfigWithoutOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "us-east-1"})
	require.NoError(t, err)
	assert.Nil(t, awsCfg.EndpointResolverWithOptions)
}
