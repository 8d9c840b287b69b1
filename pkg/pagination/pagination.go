package pagination

import (
	"fmt"
	"strconv"
)

// PaginationParams represents pagination query parameters
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// PageResponse is a page of results without a total count. HasMore is set
// when the page came back full.
type PageResponse struct {
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
	Data    interface{} `json:"data"`
}

// Constants
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// ParsePaginationParams parses pagination parameters from query string
func ParsePaginationParams(pageStr, limitStr string) (*PaginationParams, error) {
	page := DefaultPage
	limit := DefaultLimit

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < MinLimit:
			limit = MinLimit
		case l > MaxLimit:
			limit = MaxLimit
		default:
			limit = l
		}
	}

	return &PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}

// BuildPageResponse wraps one page of items
func BuildPageResponse(params *PaginationParams, count int, data interface{}) *PageResponse {
	return &PageResponse{
		Page:    params.Page,
		Limit:   params.Limit,
		HasMore: count == params.Limit,
		Data:    data,
	}
}
