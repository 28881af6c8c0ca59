package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

const placeholderImage = "/api/placeholder/400/300"

// Sort orders accepted by Marketplace.List
const (
	SortNone      = ""
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
)

// Query filters and orders marketplace listings
type Query struct {
	Search string
	Tribe  string
	Sort   string
}

// Marketplace serves a fixed mask catalog
type Marketplace struct {
	masks []models.Mask
}

// NewMarketplace returns the default catalog
func NewMarketplace() *Marketplace {
	return &Marketplace{masks: []models.Mask{
		{ID: 1, Name: "Yoruba Mask", Tribe: "Yoruba", Price: decimal.RequireFromString("0.5"), Image: placeholderImage},
		{ID: 2, Name: "Dogon Mask", Tribe: "Dogon", Price: decimal.RequireFromString("0.7"), Image: placeholderImage},
		{ID: 3, Name: "Senufo Mask", Tribe: "Senufo", Price: decimal.RequireFromString("0.6"), Image: placeholderImage},
		{ID: 4, Name: "Bamana Mask", Tribe: "Bamana", Price: decimal.RequireFromString("0.8"), Image: placeholderImage},
		{ID: 5, Name: "Fang Mask", Tribe: "Fang", Price: decimal.RequireFromString("1.0"), Image: placeholderImage},
		{ID: 6, Name: "Chokwe Mask", Tribe: "Chokwe", Price: decimal.RequireFromString("0.9"), Image: placeholderImage},
	}}
}

// Tribes returns the tribes present in the catalog, in catalog order
func (m *Marketplace) Tribes() []string {
	tribes := make([]string, 0, len(m.masks))
	seen := make(map[string]bool)
	for _, mask := range m.masks {
		if !seen[mask.Tribe] {
			seen[mask.Tribe] = true
			tribes = append(tribes, mask.Tribe)
		}
	}
	return tribes
}

// List returns the masks whose name contains q.Search (case-insensitive) and
// whose tribe equals q.Tribe (empty matches all), ordered by q.Sort.
func (m *Marketplace) List(q Query) ([]models.Mask, error) {
	switch q.Sort {
	case SortNone, SortPriceAsc, SortPriceDesc:
	default:
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unsupported sort order", q.Sort)
	}

	search := strings.ToLower(q.Search)
	out := make([]models.Mask, 0, len(m.masks))
	for _, mask := range m.masks {
		if !strings.Contains(strings.ToLower(mask.Name), search) {
			continue
		}
		if q.Tribe != "" && mask.Tribe != q.Tribe {
			continue
		}
		out = append(out, mask)
	}

	switch q.Sort {
	case SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	case SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	}

	return out, nil
}
