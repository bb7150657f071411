package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
)

type stockSeeder interface {
	Seed(ctx context.Context, product string, quantity int) (bool, error)
	Get(ctx context.Context, product string) (*models.StockItem, error)
}

// seedInventory creates the configured products. Products already in the
// table keep their current quantity.
func seedInventory(ctx context.Context, s stockSeeder, stock map[string]int, log *slog.Logger) error {
	if len(stock) == 0 {
		log.Warn("No inventory seeded, orders for products missing from the table will be dead-lettered")
		return nil
	}

	for _, product := range slices.Sorted(maps.Keys(stock)) {
		added, err := s.Seed(ctx, product, stock[product])
		if err != nil {
			return fmt.Errorf("failed to seed %q: %w", product, err)
		}
		if added {
			log.Info("Seeded inventory", "product", product, "quantity", stock[product])
			continue
		}

		item, err := s.Get(ctx, product)
		if err != nil {
			return fmt.Errorf("failed to read stock for %q: %w", product, err)
		}
		log.Info("Inventory already stocked", "product", product, "quantity", item.Quantity)
	}
	return nil
}
