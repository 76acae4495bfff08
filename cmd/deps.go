package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/cache"
	"example.com/backstage/services/provenance/internal/database"
	"example.com/backstage/services/provenance/internal/search"
)

// openStore returns the ledger store of the configured driver. The memory
// driver keeps everything in process and needs no migration.
func openStore(cfg config.Config, migrate bool) (eventstore.Store, func(), error) {
	if cfg.DB.Driver == "memory" {
		log.Warn().Msg("Using in-memory ledger store, data is lost on exit")
		return eventstore.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := db.Migrate(); err != nil {
			return nil, nil, errors.Wrap(err, "failed to run migrations")
		}
	}

	closeFn := func() {
		if sqlDB, err := db.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return eventstore.NewGormStore(db.DB()), closeFn, nil
}

// openCache connects the verification cache, falling back to a disabled
// cache when Redis is unreachable
func openCache(cfg config.RedisConfig) *cache.VerificationCache {
	verificationCache, err := cache.NewVerificationCache(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		verificationCache, _ = cache.NewVerificationCache(config.RedisConfig{})
	}
	return verificationCache
}

// openSearch returns the Elasticsearch read model client, or nil when disabled
func openSearch(cfg config.ElasticConfig) *search.ElasticClient {
	if !cfg.Enabled {
		return nil
	}
	client, err := search.NewElasticClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		return nil
	}
	return client
}
