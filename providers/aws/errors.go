package aws

import (
	"errors"

	"sales-forecast/core/models"

	"github.com/aws/smithy-go"
)

// wrap turns an SDK failure into an ExternalServiceError that keeps the
// service's error code and message
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return models.ExternalServiceError(op, err)
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
