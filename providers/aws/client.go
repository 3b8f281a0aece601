package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/textract"
)

// The Price List API is only served from a few regions
const pricingRegion = "us-east-1"

// Client is the AWS provider client
type Client struct {
	s3Client        *s3.Client
	textractClient  *textract.Client
	sagemakerClient *sagemaker.Client
	glueClient      *glue.Client
	pricingClient   *pricing.Client
	region          string
}

// NewClient creates a new AWS client from the default credential chain
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &Client{
		s3Client:        s3.NewFromConfig(cfg),
		textractClient:  textract.NewFromConfig(cfg),
		sagemakerClient: sagemaker.NewFromConfig(cfg),
		glueClient:      glue.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		region: region,
	}, nil
}

// Region returns the region the service clients talk to
func (c *Client) Region() string {
	return c.region
}

// ObjectStore returns the S3 adapter
func (c *Client) ObjectStore() *S3Store {
	return &S3Store{client: c.s3Client}
}

// DocumentAnalyzer returns the Textract adapter. Completion notifications
// are published to topicArn using roleArn.
func (c *Client) DocumentAnalyzer(topicArn, roleArn string) *Textract {
	return &Textract{client: c.textractClient, snsTopicArn: topicArn, snsRoleArn: roleArn}
}

// SageMaker returns the pipelines, registry and batch transform adapter
func (c *Client) SageMaker() *SageMaker {
	return &SageMaker{client: c.sagemakerClient}
}

// ETL returns the Glue adapter
func (c *Client) ETL() *Glue {
	return &Glue{client: c.glueClient}
}

// Pricing returns the SageMaker instance price source
func (c *Client) Pricing() *Pricing {
	return &Pricing{client: c.pricingClient, region: c.region}
}
