package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"odometer-backend/internal/models"

	"gopkg.in/yaml.v2"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Items []models.MaintenanceItem `yaml:"items"`
}

// Catalog is the read-only set of maintenance items, indexed by id.
type Catalog struct {
	items map[string]models.MaintenanceItem
	order []string
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML catalog and resolves every suggestion string.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode maintenance catalog: %w", err)
	}

	c := &Catalog{items: make(map[string]models.MaintenanceItem, len(file.Items))}
	for _, item := range file.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("maintenance item %q has no id", item.Name)
		}
		if _, dup := c.items[item.ID]; dup {
			return nil, fmt.Errorf("duplicate maintenance item %q", item.ID)
		}
		km, err := ParseDistanceSuggestion(item.DistanceSuggestion)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		months, err := ParseTimeSuggestion(item.TimeSuggestion)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		item.SuggestedDistanceIntervalKm = km
		item.SuggestedTimeIntervalMonths = months
		c.items[item.ID] = item
		c.order = append(c.order, item.ID)
	}
	return c, nil
}

// New builds a catalog from already-resolved items.
func New(items ...models.MaintenanceItem) *Catalog {
	c := &Catalog{items: make(map[string]models.MaintenanceItem, len(items))}
	for _, item := range items {
		if _, dup := c.items[item.ID]; !dup {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item
	}
	return c
}

func (c *Catalog) Get(id string) (models.MaintenanceItem, bool) {
	item, ok := c.items[id]
	return item, ok
}

// Items returns the catalog in file order.
func (c *Catalog) Items() []models.MaintenanceItem {
	out := make([]models.MaintenanceItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// IDs returns item ids sorted alphabetically.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

var numberPattern = regexp.MustCompile(`\d[\d,.\s]*`)

// ParseDistanceSuggestion extracts the kilometre interval from strings such as
// "Every 5,000 km" or "15,000 - 20,000 km". Ranges use their lower bound.
// An empty suggestion means the item has no distance trigger.
func ParseDistanceSuggestion(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := firstNumber(s)
	if err != nil {
		return 0, fmt.Errorf("invalid distance suggestion %q: %w", s, err)
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "mile") {
		n *= 1.609344
	}
	return n, nil
}

// ParseTimeSuggestion converts "6 months" or "2 years" to months.
func ParseTimeSuggestion(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := firstNumber(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time suggestion %q: %w", s, err)
	}
	if strings.Contains(strings.ToLower(s), "year") {
		n *= 12
	}
	return int(n), nil
}

func firstNumber(s string) (float64, error) {
	match := numberPattern.FindString(s)
	if match == "" {
		return 0, fmt.Errorf("no number found")
	}
	// "15,000 - 20,000" is matched up to the dash; thousands separators are dropped
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(match))
	cleaned = strings.TrimRight(cleaned, ".")
	return strconv.ParseFloat(cleaned, 64)
}
