package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/database"
	"github.com/stemsi/exstem-mocktest/internal/logger"
	"github.com/stemsi/exstem-mocktest/internal/repository"
)

// seed-papers upserts every YAML paper under a directory into PostgreSQL and
// drops the cached copy so the servers pick up the new version.
func main() {
	var dir string
	var dryRun bool
	flag.StringVar(&dir, "dir", "", "Papers directory laid out as <exam_type>/<paper_id>.yaml (default PAPERS_DIR)")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the papers without writing them")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if dir == "" {
		dir = cfg.PapersDir
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	files := repository.NewFileLoader(dir)
	keys, err := files.ListPapers(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("Failed to list papers")
	}
	fmt.Printf("=== Seeding %d paper(s) from %s ===\n", len(keys), dir)

	if dryRun {
		invalid := 0
		for _, k := range keys {
			if _, err := files.LoadTestDefinition(ctx, k.ExamType, k.PaperID); err != nil {
				fmt.Printf("INVALID %s/%s: %v\n", k.ExamType, k.PaperID, err)
				invalid++
				continue
			}
			fmt.Printf("ok      %s/%s\n", k.ExamType, k.PaperID)
		}
		fmt.Printf("\nDry run completed: %d/%d valid.\n", len(keys)-invalid, len(keys))
		return
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	definitions := repository.NewDefinitionRepository(pool)
	cache := repository.NewCachedLoader(definitions, rdb, cfg.DefinitionCacheTTL, log)

	successCount := 0
	for _, k := range keys {
		def, err := files.LoadTestDefinition(ctx, k.ExamType, k.PaperID)
		if err != nil {
			fmt.Printf("Error loading %s/%s: %v\n", k.ExamType, k.PaperID, err)
			continue
		}
		if err := definitions.Upsert(ctx, def); err != nil {
			fmt.Printf("Error upserting %s/%s: %v\n", k.ExamType, k.PaperID, err)
			continue
		}
		if err := cache.Invalidate(ctx, k.ExamType, k.PaperID); err != nil {
			log.Warn().Err(err).Str("exam_type", k.ExamType).Str("paper_id", k.PaperID).Msg("Cache invalidation failed")
		}
		successCount++
		fmt.Printf("Upserted %s/%s (%d questions)\n", k.ExamType, k.PaperID, len(def.Questions))
	}

	fmt.Printf("\nSeed completed! Successfully upserted %d/%d papers.\n", successCount, len(keys))
}
