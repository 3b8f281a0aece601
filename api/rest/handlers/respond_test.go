package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.UnsupportedType("op", ".txt"), http.StatusUnsupportedMediaType},
		{models.InvalidArgument("op", "bad"), http.StatusBadRequest},
		{models.ModelNotApproved("op", "arn", models.ApprovalPending), http.StatusConflict},
		{models.NotFound("op", "thing"), http.StatusNotFound},
		{models.Forbidden("op", "bad signature"), http.StatusForbidden},
		{models.IngestionFailed("op", "parse", errors.New("eof")), http.StatusBadGateway},
		{models.ExternalServiceError("op", errors.New("throttled")), http.StatusBadGateway},
		{models.DefinitionError("op", "missing role"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", models.NotFound("op", "thing")), http.StatusNotFound},
		{fmt.Errorf("%w: 10 polls", monitoring.ErrPollBoundExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
