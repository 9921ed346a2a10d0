package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"voicemart/internal/models"
)

func TestQueryReply(t *testing.T) {
	ceiling := 5000.0

	tests := []struct {
		name  string
		query *models.StructuredQuery
		want  string
	}{
		{
			name: "search with price ceiling",
			query: &models.StructuredQuery{
				Intent:   models.IntentSearch,
				Slots:    []models.Slot{{Name: models.SlotBrand, Value: "nike"}, {Name: models.SlotProduct, Value: "shoes"}},
				PriceMax: &ceiling,
				Currency: "LKR",
			},
			want: "Searching for nike shoes under 5000 LKR.",
		},
		{
			name: "compare keeps spoken brand order",
			query: &models.StructuredQuery{
				Intent: models.IntentCompare,
				Slots: []models.Slot{
					{Name: models.SlotBrand, Value: "adidas", Span: models.Span{Start: 3, End: 4}},
					{Name: models.SlotBrand, Value: "nike", Span: models.Span{Start: 1, End: 2}},
					{Name: models.SlotProduct, Value: "running shoes", Span: models.Span{Start: 4, End: 6}},
				},
			},
			want: "Comparing nike and adidas running shoes.",
		},
		{
			name: "three brands",
			query: &models.StructuredQuery{
				Intent: models.IntentCompare,
				Slots: []models.Slot{
					{Name: models.SlotBrand, Value: "nike", Span: models.Span{Start: 1, End: 2}},
					{Name: models.SlotBrand, Value: "puma", Span: models.Span{Start: 2, End: 3}},
					{Name: models.SlotBrand, Value: "adidas", Span: models.Span{Start: 4, End: 5}},
				},
			},
			want: "Comparing nike, puma and adidas.",
		},
		{
			name:  "add to cart defaults to one",
			query: &models.StructuredQuery{Intent: models.IntentAddToCart, Slots: []models.Slot{{Name: models.SlotProduct, Value: "milo"}}},
			want:  "Adding 1 milo to your cart.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryReply(tt.query))
		})
	}
}
