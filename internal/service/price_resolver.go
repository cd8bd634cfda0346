package service

import (
	"context"
	"fmt"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/util"

	"github.com/shopspring/decimal"
)

// CartItem is what a client asks to buy. Prices sent by clients are not
// decoded; only the catalog prices an item.
type CartItem struct {
	ProductID string `json:"productID" validate:"required"`
	Format    string `json:"format" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// ResolvedCart holds catalog-priced line items and their total
type ResolvedCart struct {
	Items models.LineItems
	Total decimal.Decimal
}

// PriceResolver prices carts from the catalog service
type PriceResolver struct {
	catalog CatalogClient
}

func NewPriceResolver(catalog CatalogClient) *PriceResolver {
	return &PriceResolver{catalog: catalog}
}

// Resolve fetches every referenced product in one call and prices each item
// with its format's catalog price.
func (r *PriceResolver) Resolve(ctx context.Context, items []CartItem) (*ResolvedCart, error) {
	ctx, span := util.StartSpan(ctx, "PriceResolver.Resolve")
	defer span.End()

	if len(items) == 0 {
		return nil, apperror.Validation("At least one product is required")
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, apperror.Validation(fmt.Sprintf("Quantity of product %s must be a positive integer", item.ProductID))
		}
		ids = append(ids, item.ProductID)
	}

	products, err := r.catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.CatalogProduct, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	cart := &ResolvedCart{Items: make(models.LineItems, 0, len(items))}
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, apperror.Validation(fmt.Sprintf("Product %s does not exist", item.ProductID))
		}
		format, ok := findFormat(product, item.Format)
		if !ok {
			return nil, apperror.Validation(fmt.Sprintf("Product %s has no format %s", item.ProductID, item.Format))
		}
		if format.Price.IsNegative() {
			return nil, fmt.Errorf("catalog returned negative price for product %s", item.ProductID)
		}

		cart.Items = append(cart.Items, models.LineItem{
			ProductID:       item.ProductID,
			Format:          format.Name,
			Quantity:        item.Quantity,
			UnitPrice:       format.Price,
			ProviderPriceID: format.ProviderPriceID,
		})
	}
	cart.Total = cart.Items.Total()

	return cart, nil
}

func findFormat(p models.CatalogProduct, name string) (models.CatalogFormat, bool) {
	for _, f := range p.Format {
		if f.Name == name {
			return f, true
		}
	}
	return models.CatalogFormat{}, false
}

// minorUnits converts a decimal amount to cents
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
