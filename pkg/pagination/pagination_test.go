package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		name   string
		page   string
		limit  string
		want   PaginationParams
		hasErr bool
	}{
		{name: "defaults", want: PaginationParams{Page: 1, Limit: 20, Offset: 0}},
		{name: "third page", page: "3", limit: "10", want: PaginationParams{Page: 3, Limit: 10, Offset: 20}},
		{name: "limit clamped high", limit: "500", want: PaginationParams{Page: 1, Limit: MaxLimit}},
		{name: "limit clamped low", limit: "0", want: PaginationParams{Page: 1, Limit: MinLimit}},
		{name: "negative page", page: "-2", want: PaginationParams{Page: 1, Limit: 20}},
		{name: "garbage", page: "two", hasErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePaginationParams(tt.page, tt.limit)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestBuildPageResponse_HasMore(t *testing.T) {
	params := &PaginationParams{Page: 1, Limit: 2}

	assert.True(t, BuildPageResponse(params, 2, nil).HasMore)
	assert.False(t, BuildPageResponse(params, 1, nil).HasMore)
}
