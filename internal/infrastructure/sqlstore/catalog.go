package sqlstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"gopkg.in/yaml.v3"
)

// Catalog is the YAML seed file. Prices are major-unit strings ("29.99") in
// Currency, which decides how many decimals they carry.
type Catalog struct {
	Currency string           `yaml:"currency"`
	Products []CatalogProduct `yaml:"products"`
	Coupons  []CatalogCoupon  `yaml:"coupons"`
}

type CatalogProduct struct {
	ID       string           `yaml:"id"`
	Name     string           `yaml:"name"`
	Price    string           `yaml:"price"`
	Stock    int              `yaml:"stock"`
	Inactive bool             `yaml:"inactive"`
	Variants []CatalogVariant `yaml:"variants"`
}

type CatalogVariant struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	PriceModifier string `yaml:"price_modifier"`
	Stock         int    `yaml:"stock"`
}

type CatalogCoupon struct {
	Code            string    `yaml:"code"`
	Type            string    `yaml:"type"`
	Value           int64     `yaml:"value"`
	MaximumDiscount string    `yaml:"maximum_discount"`
	MinimumAmount   string    `yaml:"minimum_amount"`
	ValidFrom       time.Time `yaml:"valid_from"`
	ValidUntil      time.Time `yaml:"valid_until"`
	UsageLimit      int       `yaml:"usage_limit"`
	Inactive        bool      `yaml:"inactive"`
}

func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("sqlstore: read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("sqlstore: parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Seed upserts the catalog. Existing rows keep their stock and usage counters, so
// seeding again on restart never resets inventory.
func (s *Store) Seed(ctx context.Context, c Catalog) error {
	return s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		q := tx.(scope).q
		now := fmtTime(time.Now())
		for _, p := range c.Products {
			price, err := parseAmount(p.Price, c.Currency)
			if err != nil {
				return fmt.Errorf("sqlstore: product %s: %w", p.ID, err)
			}
			_, err = q.ExecContext(ctx, `INSERT INTO products (id, name, price, stock_quantity, active, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, active = excluded.active`,
				p.ID, p.Name, price, p.Stock, boolInt(!p.Inactive), now)
			if err != nil {
				return fmt.Errorf("sqlstore: seed product %s: %w", p.ID, err)
			}
			for _, v := range p.Variants {
				mod, err := parseAmount(v.PriceModifier, c.Currency)
				if err != nil {
					return fmt.Errorf("sqlstore: variant %s: %w", v.ID, err)
				}
				_, err = q.ExecContext(ctx, `INSERT INTO product_variants (id, product_id, name, price_modifier, stock_quantity)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT (id) DO UPDATE SET name = excluded.name, price_modifier = excluded.price_modifier`,
					v.ID, p.ID, v.Name, mod, v.Stock)
				if err != nil {
					return fmt.Errorf("sqlstore: seed variant %s: %w", v.ID, err)
				}
			}
		}

		for _, cp := range c.Coupons {
			maxDiscount, err := parseAmount(cp.MaximumDiscount, c.Currency)
			if err != nil {
				return fmt.Errorf("sqlstore: coupon %s: %w", cp.Code, err)
			}
			minimum, err := parseAmount(cp.MinimumAmount, c.Currency)
			if err != nil {
				return fmt.Errorf("sqlstore: coupon %s: %w", cp.Code, err)
			}
			from := cp.ValidFrom
			if from.IsZero() {
				from = time.Unix(0, 0)
			}
			var until *time.Time
			if !cp.ValidUntil.IsZero() {
				until = &cp.ValidUntil
			}
			_, err = q.ExecContext(ctx, `INSERT INTO coupons
				(code, discount_type, discount_value, maximum_discount, minimum_amount, valid_from, valid_until, usage_limit, active)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (code) DO UPDATE SET discount_type = excluded.discount_type,
					discount_value = excluded.discount_value, maximum_discount = excluded.maximum_discount,
					minimum_amount = excluded.minimum_amount, valid_from = excluded.valid_from,
					valid_until = excluded.valid_until, usage_limit = excluded.usage_limit, active = excluded.active`,
				normalizeCode(cp.Code), strings.ToLower(cp.Type), cp.Value, maxDiscount, minimum,
				fmtTime(from), fmtTimePtr(until), cp.UsageLimit, boolInt(!cp.Inactive))
			if err != nil {
				return fmt.Errorf("sqlstore: seed coupon %s: %w", cp.Code, err)
			}
		}
		return nil
	})
}

func parseAmount(s, currency string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return money.Parse(s, currency)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
