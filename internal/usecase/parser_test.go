package usecase

import (
	"math"
	"testing"
)

func TestExtractSize(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantSize float64
		wantUnit string
		wantNil  bool
	}{
		{"milliliters stay as-is", "CC Zero Sugar 330ml", 330, "ml", false},
		{"liters convert to ml", "Spring Water 1.5 l", 1500, "l", false},
		{"fluid ounces convert to ml", "Soda 12 fl oz", 12 * 29.5735, "floz", false},
		{"kilograms convert to grams", "Flour 2kg bag", 2000, "kg", false},
		{"pounds convert to grams", "Sugar 1 lb", 453.592, "lb", false},
		{"pack count is unitless", "Gum 3 pk", 3, "pk", false},
		{"first size token wins", "Cola 330ml case of 24 ct", 330, "ml", false},
		{"no size present", "Mystery Item", 0, "", true},
		{"zero value rejected", "Cola 0ml", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, unit := ExtractSize(tt.text)
			if tt.wantNil {
				if size != nil {
					t.Errorf("ExtractSize(%q) = %v, want nil", tt.text, *size)
				}
				return
			}
			if size == nil {
				t.Fatalf("ExtractSize(%q) = nil, want %v", tt.text, tt.wantSize)
			}
			if math.Abs(*size-tt.wantSize) > 0.001 {
				t.Errorf("ExtractSize(%q) size = %v, want %v", tt.text, *size, tt.wantSize)
			}
			if unit != tt.wantUnit {
				t.Errorf("ExtractSize(%q) unit = %q, want %q", tt.text, unit, tt.wantUnit)
			}
		})
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"strips promo words", "NEW Coca-Cola 330ml SALE", "Coca-Cola 330ml"},
		{"strips punctuation noise", "Coke Zero!!! ***", "Coke Zero"},
		{"strips bogo offers", "Sprite 2l BOGO limited time", "Sprite 2l"},
		{"collapses whitespace", "  Fanta   Orange  ", "Fanta Orange"},
		{"plain text untouched", "Colgate Total 75ml", "Colgate Total 75ml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanDescription(tt.text)
			if got != tt.want {
				t.Errorf("CleanDescription(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
