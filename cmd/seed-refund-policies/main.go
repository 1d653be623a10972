package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/config"
	"github.com/tourhub/tour-booking-core/internal/database"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// policyFile is the on-disk layout: one [[policy]] table per refund rule
type policyFile struct {
	Policies []*models.RefundPolicy `toml:"policy"`
}

func main() {
	file := flag.String("file", "configs/refund_policies.toml", "TOML file with [[policy]] entries")
	dryRun := flag.Bool("dry-run", false, "validate the file without touching the database")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	policies, err := loadPolicies(*file)
	if err != nil {
		logger.Fatalf("Failed to load refund policies: %v", err)
	}
	logger.WithField("count", len(policies)).Info("Refund policies parsed")

	if *dryRun {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo := database.NewRefundPolicyRepository(db)
	err = database.NewTxManager(db).WithinTx(ctx, func(ctx context.Context) error {
		for _, p := range policies {
			if err := repo.UpsertPolicy(ctx, p); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"policy_id":   p.ID,
				"name":        p.Name,
				"refund_type": p.RefundType,
				"version":     p.Version,
			}).Info("Refund policy upserted")
		}
		return nil
	})
	if err != nil {
		logger.Fatalf("Seeding aborted, nothing written: %v", err)
	}

	logger.Info("Refund policies seeded")
}

// loadPolicies decodes and validates every policy in path
func loadPolicies(path string) ([]*models.RefundPolicy, error) {
	var f policyFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return preparePolicies(f.Policies)
}

func preparePolicies(policies []*models.RefundPolicy) ([]*models.RefundPolicy, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no [[policy]] entries found")
	}

	seen := make(map[string]bool, len(policies))
	for i, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("policy #%d: name is required", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("policy %q declared twice", p.Name)
		}
		seen[p.Name] = true

		if p.EffectiveFrom.IsZero() {
			p.EffectiveFrom = time.Now().UTC()
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		// Existing rows keep their id through ON CONFLICT (name)
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
	}
	return policies, nil
}
