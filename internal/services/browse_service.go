package services

import (
	"context"
	"errors"

	"github.com/deshtopup/storefront/internal/browse"
)

// ErrBrowseInvalidFilter indicates an unknown price bucket or malformed paging input.
var ErrBrowseInvalidFilter = errors.New("browse service: invalid filter")

type browseService struct {
	catalog *browse.Catalog
}

var _ BrowseService = (*browseService)(nil)

func NewBrowseService(catalog *browse.Catalog) (BrowseService, error) {
	if catalog == nil {
		return nil, errors.New("browse service: catalog is required")
	}
	return &browseService{catalog: catalog}, nil
}

func (s *browseService) Browse(ctx context.Context, filter BrowseFilter) (BrowseResult, error) {
	if err := ctx.Err(); err != nil {
		return BrowseResult{}, err
	}
	result, err := s.catalog.Browse(browse.Filter{
		Category: filter.Category,
		Bucket:   filter.Bucket,
		Query:    filter.Query,
		Page:     filter.Page,
	})
	if err != nil {
		if errors.Is(err, browse.ErrUnknownBucket) {
			return BrowseResult{}, errors.Join(ErrBrowseInvalidFilter, err)
		}
		return BrowseResult{}, err
	}
	return BrowseResult{Items: result.Items, Total: result.Total, NextPageToken: result.NextPageToken}, nil
}

func (s *browseService) Categories(context.Context) []CategorySummary {
	return s.catalog.Categories()
}

func (s *browseService) Buckets() []PriceBucket {
	return browse.Buckets()
}

func (s *browseService) Products(context.Context) []BrowseProduct {
	return s.catalog.Products()
}
