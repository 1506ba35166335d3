package ark

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/minqiao/notepress-backend/pkg/errors"
)

const (
	catalogSearchPath     = "/api/edith/product/search_item_v2"
	catalogItemPathFormat = "/api/edith/product/item/%s"

	defaultSortField = "create_time"
	defaultSortOrder = "desc"

	// card_type 2 selects standalone product cards.
	defaultCardType = 2
)

type SearchOrder struct {
	SortField string `json:"sort_field"`
	Order     string `json:"order"`
}

type SearchFilter struct {
	CardType  int  `json:"card_type"`
	IsChannel bool `json:"is_channel"`
}

type SearchItemsRequest struct {
	PageNo                 int            `json:"page_no"`
	PageSize               int            `json:"page_size"`
	SearchOrder            SearchOrder    `json:"search_order"`
	SearchFilter           SearchFilter   `json:"search_filter"`
	SearchItemDetailOption map[string]any `json:"search_item_detail_option"`
}

// NewSearchItemsRequest builds a search request with the platform's
// expected defaults: newest items first, product cards only.
func NewSearchItemsRequest(pageNo, pageSize int) SearchItemsRequest {
	return SearchItemsRequest{
		PageNo:   pageNo,
		PageSize: pageSize,
		SearchOrder: SearchOrder{
			SortField: defaultSortField,
			Order:     defaultSortOrder,
		},
		SearchFilter: SearchFilter{
			CardType:  defaultCardType,
			IsChannel: false,
		},
		SearchItemDetailOption: map[string]any{},
	}
}

// CatalogItem is one product as returned by the platform's catalog API.
// Prices come back as decimal strings; MaxPrice is zero unless the item
// has priced variants.
type CatalogItem struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Desc       string          `json:"desc"`
	Price      decimal.Decimal `json:"price"`
	MaxPrice   decimal.Decimal `json:"max_price"`
	Stock      int             `json:"stock"`
	Buyable    bool            `json:"buyable"`
	CreateTime int64           `json:"create_time"`
	UpdateTime int64           `json:"update_time"`
}

type SearchItemsResult struct {
	Items []CatalogItem `json:"items"`
	Total int           `json:"total"`
}

// SearchItems fetches one page of the seller's catalog.
func (c *Client) SearchItems(ctx context.Context, req SearchItemsRequest) (*SearchItemsResult, error) {
	if req.PageNo < 1 {
		return nil, errors.New(errors.CodeValidation, "page number must be at least 1")
	}
	if req.PageSize < 1 {
		return nil, errors.New(errors.CodeValidation, "page size must be at least 1")
	}
	if req.SearchItemDetailOption == nil {
		req.SearchItemDetailOption = map[string]any{}
	}

	envelope, err := c.Post(ctx, "", catalogSearchPath, req)
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, errors.New(errors.CodeUpstream, "catalog search rejected: "+envelope.Message)
	}

	var parsed struct {
		Data SearchItemsResult `json:"data"`
	}
	if err := envelope.Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed.Data, nil
}

// ItemDetail fetches one product by its platform id.
func (c *Client) ItemDetail(ctx context.Context, itemID string) (*CatalogItem, error) {
	if itemID == "" {
		return nil, errors.New(errors.CodeValidation, "item id is required")
	}

	envelope, err := c.Get(ctx, "", fmt.Sprintf(catalogItemPathFormat, itemID))
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, errors.New(errors.CodeUpstream, "item detail rejected: "+envelope.Message)
	}

	var parsed struct {
		Data CatalogItem `json:"data"`
	}
	if err := envelope.Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Data.ID == "" {
		return nil, errors.New(errors.CodeNotFound, "item not found: "+itemID)
	}
	return &parsed.Data, nil
}
