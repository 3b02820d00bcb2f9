package config

import (
	"fmt"
	"roguestock-notifier/pkg/notifier"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// CatalogFile is the on-disk catalog.
type CatalogFile struct {
	Noise []string             `yaml:"noise"`
	Items map[string]ItemEntry `yaml:"items" validate:"required,min=1,dive"`
}

// ItemEntry describes one product page.
type ItemEntry struct {
	Name        string   `yaml:"name" validate:"required"`
	Link        string   `yaml:"link" validate:"required,url"`
	Type        string   `yaml:"type" validate:"required,oneof=single multi"`
	Noise       []string `yaml:"noise"`
	Subscribers []string `yaml:"subscribers" validate:"dive,required"`
}

// Catalog is the validated catalog ready for wiring.
type Catalog struct {
	Items []notifier.CatalogItem
	// Subscribers preloaded per item key.
	Subscribers map[string][]string
}

// LoadCatalog reads and validates the catalog file. Item keys are the
// commands users type, so they must be lowercase and must not collide
// with the built-in commands.
func LoadCatalog(path string, validate *validator.Validate) (*Catalog, error) {
	var f CatalogFile
	if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return buildCatalog(&f, validate)
}

var reservedKeys = []string{"help", "status", "stop"}

func buildCatalog(f *CatalogFile, validate *validator.Validate) (*Catalog, error) {
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	keys := make([]string, 0, len(f.Items))
	for key := range f.Items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	c := &Catalog{Subscribers: make(map[string][]string)}
	for _, key := range keys {
		entry := f.Items[key]
		if key != strings.ToLower(strings.TrimSpace(key)) || key == "" {
			return nil, fmt.Errorf("invalid catalog: item key %q must be lowercase without surrounding spaces", key)
		}
		if slices.Contains(reservedKeys, key) {
			return nil, fmt.Errorf("invalid catalog: item key %q is a reserved command", key)
		}

		c.Items = append(c.Items, notifier.CatalogItem{
			Key:         key,
			ProductName: entry.Name,
			URL:         entry.Link,
			Shape:       notifier.Shape(entry.Type),
			Noise:       append(slices.Clone(f.Noise), entry.Noise...),
		})
		if len(entry.Subscribers) > 0 {
			c.Subscribers[key] = slices.Clone(entry.Subscribers)
		}
	}
	return c, nil
}
