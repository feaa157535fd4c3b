package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"shop-activation/internal/application"
	"shop-activation/internal/config"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/infra/logging"
	"shop-activation/internal/usecase"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config yaml")
		trials     = flag.Int("trials", 5, "number of trial codes to issue")
		trialDays  = flag.Int("trial-days", 0, "trial length in days (0 uses license.default_trial_days)")
		permanents = flag.Int("permanent", 1, "number of permanent codes to issue")
	)
	flag.Parse()

	// ---- Config ----
	cfg, err := config.Load(*configPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer app.Close()

	// If codes already exist, do nothing
	existing, err := app.Issuer.List(ctx)
	if err != nil {
		log.Fatalf("list codes: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d codes already present. No changes.\n", len(existing))
		return
	}

	var days *int
	if *trialDays > 0 {
		days = trialDays
	}
	batches := []usecase.IssueRequest{
		{Type: model.CodeTypeTrial, DurationDays: days, Count: *trials, Note: "seed"},
		{Type: model.CodeTypePermanent, Count: *permanents, Note: "seed"},
	}
	for _, b := range batches {
		if b.Count <= 0 {
			continue
		}
		codes, err := app.Issuer.Issue(ctx, b)
		if err != nil {
			log.Fatalf("issue %s codes: %v", b.Type, err)
		}
		for _, c := range codes {
			fmt.Printf("seeded: %s (%s)\n", c.Code, c.Type)
		}
	}

	fmt.Println("Seeding complete.")
}
