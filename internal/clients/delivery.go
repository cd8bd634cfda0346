package clients

import (
	"context"
	"net/http"
	"time"

	"sales-service/internal/breaker"
	"sales-service/internal/models"
	"sales-service/internal/util"
)

// DeliveryClient hands purchased goods to the delivery service
type DeliveryClient struct {
	baseClient
}

func NewDeliveryClient(baseURL string, timeout time.Duration, registry *breaker.Registry) *DeliveryClient {
	return &DeliveryClient{
		baseClient: newBaseClient("delivery", baseURL, timeout, registry.Get("delivery_dispatch")),
	}
}

func (c *DeliveryClient) Dispatch(ctx context.Context, req models.DeliveryRequest) error {
	ctx, span := util.StartSpan(ctx, "DeliveryClient.Dispatch")
	defer span.End()

	_, err := breaker.Guard(ctx, c.breaker,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.do(ctx, http.MethodPost, "/deliveries", req, nil)
		},
		breaker.PassThroughClientErrors[struct{}],
		breaker.CountsAsFailure,
	)
	return err
}
