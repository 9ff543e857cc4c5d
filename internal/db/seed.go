package db

import (
	"context"
	"strings"

	"battles/internal/config"
	"battles/internal/models"
	"battles/internal/repository"
)

// SeedAssets upserts the configured asset pool. Assets without a feed id
// are skipped.
func SeedAssets(ctx context.Context, repo repository.Repository, assets []config.AssetConfig) (int, error) {
	n := 0
	for _, a := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		feed := strings.TrimSpace(a.FeedID)
		if symbol == "" || feed == "" {
			continue
		}
		if err := repo.UpsertAsset(ctx, &models.Asset{
			Symbol:  symbol,
			Name:    strings.TrimSpace(a.Name),
			Mint:    strings.TrimSpace(a.Mint),
			FeedID:  feed,
			Enabled: true,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
