package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sales-forecast/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

const sageMakerServiceCode = "AmazonSageMaker"

// Pricing implements optimizer.PriceSource with the Price List API
type Pricing struct {
	client *pricing.Client
	region string
}

// HourlyPrice returns the lowest on-demand hourly price of a SageMaker
// instance type in the client's region
func (p *Pricing) HourlyPrice(ctx context.Context, instanceType string) (float64, error) {
	location, err := LocationName(p.region)
	if err != nil {
		return 0, models.InvalidArgument("pricing.hourly_price", err.Error())
	}

	input := &pricing.GetProductsInput{
		ServiceCode: aws.String(sageMakerServiceCode),
		Filters: []types.Filter{
			{Type: types.FilterTypeTermMatch, Field: aws.String("instanceName"), Value: aws.String(instanceType)},
			{Type: types.FilterTypeTermMatch, Field: aws.String("location"), Value: aws.String(location)},
		},
		MaxResults: aws.Int32(100),
	}

	var documents []string
	paginator := pricing.NewGetProductsPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, wrap("pricing.get_products", fmt.Errorf("%s in %s: %w", instanceType, p.region, err))
		}
		documents = append(documents, page.PriceList...)
	}

	price, err := ParsePriceList(documents)
	if err != nil {
		return 0, models.ExternalServiceError("pricing.hourly_price", fmt.Errorf("%s in %s: %w", instanceType, p.region, err))
	}
	return price, nil
}

type priceDocument struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// ParsePriceList returns the lowest positive hourly USD on-demand price
// found in a set of Price List product documents
func ParsePriceList(documents []string) (float64, error) {
	best := 0.0
	for _, doc := range documents {
		var parsed priceDocument
		if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
			return 0, fmt.Errorf("malformed price document: %w", err)
		}
		for _, term := range parsed.Terms.OnDemand {
			for _, dim := range term.PriceDimensions {
				if dim.Unit != "Hrs" {
					continue
				}
				usd, err := strconv.ParseFloat(dim.PricePerUnit["USD"], 64)
				if err != nil || usd <= 0 {
					continue
				}
				if best == 0 || usd < best {
					best = usd
				}
			}
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no hourly on-demand price found")
	}
	return best, nil
}
