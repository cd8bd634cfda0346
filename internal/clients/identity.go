package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"sales-service/internal/apperror"
	"sales-service/internal/breaker"
	"sales-service/internal/util"

	"go.uber.org/zap"
)

// IdentityClient resolves user tokens to account ids
type IdentityClient struct {
	baseClient
	logger *zap.Logger
}

func NewIdentityClient(baseURL string, timeout time.Duration, registry *breaker.Registry) *IdentityClient {
	return &IdentityClient{
		baseClient: newBaseClient("identity", baseURL, timeout, registry.Get("identity_auth")),
		logger:     util.GetLogger(),
	}
}

type authResponse struct {
	AccountID string `json:"account_id"`
}

// Authenticate returns the account id behind token. The identity service
// answers 5xx for unknown tokens, so that status means authentication failed;
// anything else going wrong means the service is unavailable.
func (c *IdentityClient) Authenticate(ctx context.Context, token string) (string, error) {
	ctx, span := util.StartSpan(ctx, "IdentityClient.Authenticate")
	defer span.End()

	if token == "" {
		return "", apperror.Auth("Missing user token")
	}

	accountID, err := breaker.Guard(ctx, c.breaker,
		func(ctx context.Context) (string, error) {
			var resp authResponse
			if err := c.do(ctx, http.MethodGet, "/auth/"+url.PathEscape(token), nil, &resp); err != nil {
				var statusErr *StatusError
				if errors.As(err, &statusErr) && statusErr.StatusCode >= 500 {
					return "", apperror.Wrap(apperror.KindAuth, "Authentication failed", err)
				}
				return "", err
			}
			if resp.AccountID == "" {
				return "", apperror.Auth("Authentication failed")
			}
			return resp.AccountID, nil
		},
		breaker.PassThroughClientErrors[string],
		breaker.CountsAsFailure,
	)
	if err != nil {
		c.logger.Warn("Authentication failed", zap.Error(err))
		return "", err
	}
	return accountID, nil
}
