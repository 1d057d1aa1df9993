package store

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
	product_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	price REAL,
	stock_quantity INTEGER
);
CREATE TABLE IF NOT EXISTS sales (
	sale_id INTEGER PRIMARY KEY,
	product_id INTEGER,
	quantity_sold INTEGER,
	sale_date TEXT,
	channel TEXT,
	FOREIGN KEY (product_id) REFERENCES products (product_id)
);
`

// Product is a row of the products table.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	Stock       int64
}

// Sale is a row of the sales table.
type Sale struct {
	ID       int64
	Product  int64
	Quantity int64
	Date     string
	Channel  string
}

// SampleProducts is the catalogue loaded into an empty store.
var SampleProducts = []Product{
	{1, "Dell XPS 15", "High performance laptop with a 4K OLED display.", 28500000, 30},
	{2, "Apple MacBook Pro 14", "Powered by the M3 Pro chip, ideal for developers.", 35000000, 25},
	{3, "Lenovo ThinkPad X1 Carbon", "Ultra-light business laptop with the legendary keyboard.", 25000000, 50},
	{4, "Asus ROG Zephyrus G15", "Gaming laptop with an RTX 4070 GPU.", 31000000, 20},
	{5, "Acer Swift 3", "Thin and light laptop for students.", 12500000, 80},
	{6, "HP Spectre x360", "Premium 2-in-1 convertible laptop.", 23500000, 40},
}

// SampleSales is the sales history loaded into an empty store.
var SampleSales = []Sale{
	{101, 1, 1, "2025-07-01", "Online"}, {102, 3, 2, "2025-07-01", "In-Store"},
	{103, 5, 5, "2025-07-02", "Online"}, {104, 2, 1, "2025-07-03", "In-Store"},
	{105, 4, 1, "2025-07-03", "Online"}, {106, 1, 1, "2025-07-04", "In-Store"},
	{107, 6, 2, "2025-07-05", "Online"}, {108, 3, 1, "2025-07-05", "Online"},
	{109, 5, 3, "2025-07-06", "In-Store"}, {110, 2, 1, "2025-07-07", "Online"},
}

// ensureSchema creates the tables and, when seed is set and products is
// empty, loads the sample data in one transaction.
func (s *Store) ensureSchema(ctx context.Context, seed bool) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if !seed {
		return nil
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range SampleProducts {
		if _, err := tx.ExecContext(ctx, "INSERT INTO products VALUES (?,?,?,?,?)",
			p.ID, p.Name, p.Description, p.Price, p.Stock); err != nil {
			return fmt.Errorf("failed to seed product %d: %w", p.ID, err)
		}
	}
	for _, sale := range SampleSales {
		if _, err := tx.ExecContext(ctx, "INSERT INTO sales VALUES (?,?,?,?,?)",
			sale.ID, sale.Product, sale.Quantity, sale.Date, sale.Channel); err != nil {
			return fmt.Errorf("failed to seed sale %d: %w", sale.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info().
		Int("products", len(SampleProducts)).
		Int("sales", len(SampleSales)).
		Msg("Seeded sample business data")
	return nil
}
