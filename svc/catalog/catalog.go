// Package catalog maps store product identifiers to billing cadence,
// display amount and stored renewal duration.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/paygate/svc/subscription"
)

var (
	ErrUnknownProduct   = errors.New("unknown product")
	ErrInvalidCatalog   = errors.New("invalid product catalog")
	ErrDuplicateProduct = errors.New("duplicate product")
)

// Product is one purchasable store product.
type Product struct {
	Platform  subscription.Platform `yaml:"platform"`
	ProductID string                `yaml:"product_id"`
	Cadence   subscription.Cadence  `yaml:"cadence"`
	Amount    string                `yaml:"amount"`
	// DurationDays is the stored renewal length; zero leaves it to the
	// platform's renewal policy.
	DurationDays int `yaml:"duration_days"`
}

type productKey struct {
	platform  subscription.Platform
	productID string
}

type Catalog struct {
	products map[productKey]Product
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// New builds a catalog, normalizing cadence spellings.
func New(products ...Product) (*Catalog, error) {
	c := &Catalog{products: make(map[productKey]Product, len(products))}
	for i, p := range products {
		if !p.Platform.Valid() {
			return nil, fmt.Errorf("%w: product %d: platform %q", ErrInvalidCatalog, i, p.Platform)
		}
		p.ProductID = strings.TrimSpace(p.ProductID)
		if p.ProductID == "" {
			return nil, fmt.Errorf("%w: product %d: empty product_id", ErrInvalidCatalog, i)
		}
		cadence, err := subscription.ParseCadence(string(p.Cadence))
		if err != nil {
			return nil, errors.Join(ErrInvalidCatalog, err)
		}
		p.Cadence = cadence
		if p.DurationDays < 0 {
			return nil, fmt.Errorf("%w: product %q: negative duration", ErrInvalidCatalog, p.ProductID)
		}

		key := productKey{platform: p.Platform, productID: p.ProductID}
		if _, ok := c.products[key]; ok {
			return nil, fmt.Errorf("%w: %s %q", ErrDuplicateProduct, p.Platform, p.ProductID)
		}
		c.products[key] = p
	}
	return c, nil
}

// Parse reads a YAML catalog.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return New(f.Products...)
}

// Load reads the catalog at path, or returns Default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open product catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Lookup returns the product sold under productID on platform.
func (c *Catalog) Lookup(platform subscription.Platform, productID string) (Product, error) {
	p, ok := c.products[productKey{platform: platform, productID: strings.TrimSpace(productID)}]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s %q", ErrUnknownProduct, platform, productID)
	}
	return p, nil
}

// CadenceForPrice resolves the cadence of a card-processor price. An
// explicit "cadence" metadata entry wins over the price nickname.
func (c *Catalog) CadenceForPrice(nickname string, metadata map[string]string) (subscription.Cadence, error) {
	if v := metadata["cadence"]; v != "" {
		return subscription.ParseCadence(v)
	}
	if nickname == "" {
		return "", fmt.Errorf("%w: price has neither cadence metadata nor nickname", subscription.ErrUnknownCadence)
	}
	return subscription.ParseCadence(nickname)
}

func (c *Catalog) Len() int { return len(c.products) }
