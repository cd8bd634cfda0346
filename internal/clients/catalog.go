package clients

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sales-service/internal/breaker"
	"sales-service/internal/models"
	"sales-service/internal/util"

	"github.com/shopspring/decimal"
)

// CatalogClient fetches authoritative product data
type CatalogClient struct {
	baseClient
}

func NewCatalogClient(baseURL string, timeout time.Duration, registry *breaker.Registry) *CatalogClient {
	return &CatalogClient{
		baseClient: newBaseClient("catalog", baseURL, timeout, registry.Get("catalog_products")),
	}
}

// catalogProduct accepts both the legacy (_id, stripe_price) and current field names
type catalogProduct struct {
	ID       string          `json:"id"`
	LegacyID string          `json:"_id"`
	Format   []catalogFormat `json:"format"`
}

type catalogFormat struct {
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	ProviderPriceID string          `json:"provider_price_id"`
	StripePrice     string          `json:"stripe_price"`
}

func (p catalogProduct) toModel() models.CatalogProduct {
	out := models.CatalogProduct{ID: p.ID}
	if out.ID == "" {
		out.ID = p.LegacyID
	}
	for _, f := range p.Format {
		priceID := f.ProviderPriceID
		if priceID == "" {
			priceID = f.StripePrice
		}
		out.Format = append(out.Format, models.CatalogFormat{
			Name:            f.Name,
			Price:           f.Price,
			ProviderPriceID: priceID,
		})
	}
	return out
}

// Products fetches every product in ids with one batched call. Duplicate ids
// are sent once.
func (c *CatalogClient) Products(ctx context.Context, ids []string) ([]models.CatalogProduct, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.Products")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	query := url.Values{}
	query.Set("identifiers", strings.Join(unique, ","))

	return breaker.Guard(ctx, c.breaker,
		func(ctx context.Context) ([]models.CatalogProduct, error) {
			var raw []catalogProduct
			if err := c.do(ctx, http.MethodGet, "/products-several?"+query.Encode(), nil, &raw); err != nil {
				return nil, err
			}
			products := make([]models.CatalogProduct, 0, len(raw))
			for _, p := range raw {
				products = append(products, p.toModel())
			}
			return products, nil
		},
		breaker.PassThroughClientErrors[[]models.CatalogProduct],
		breaker.CountsAsFailure,
	)
}
