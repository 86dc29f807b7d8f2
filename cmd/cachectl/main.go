// cachectl is an administrative tool for the prompt cache and usage ledger.
//
//	cachectl purge     remove all cached extraction results
//	cachectl stats     print aggregate usage statistics
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/invoice-extractor/internal/config"
	"github.com/tjfontaine/invoice-extractor/internal/promptcache"
	"github.com/tjfontaine/invoice-extractor/internal/storage/sqldb"
	"github.com/tjfontaine/invoice-extractor/internal/usage"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [purge|stats]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver == "memory" {
		log.Fatal("cachectl requires durable storage (sqlite or postgres)")
	}

	store, err := sqldb.New(sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	switch flag.Arg(0) {
	case "purge":
		cache := promptcache.New(store, true, slog.Default())
		n, err := cache.Purge(ctx)
		if err != nil {
			log.Fatalf("Purge failed: %v", err)
		}
		fmt.Printf("purged %d cached extraction(s)\n", n)

	case "stats":
		stats, err := usage.NewService(store).Stats(ctx)
		if err != nil {
			log.Fatalf("Stats failed: %v", err)
		}
		fmt.Printf("requests:       %d\n", stats.TotalRequests)
		fmt.Printf("cache hits:     %d (%.1f%%)\n", stats.CacheHits, stats.CacheHitRate*100)
		fmt.Printf("tokens charged: %d\n", stats.TotalTokens)
		fmt.Printf("cost charged:   $%.4f\n", stats.TotalCost)
		fmt.Printf("tokens saved:   %d\n", stats.SavedTokens)
		fmt.Printf("cost saved:     $%.4f\n", stats.SavedCost)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
