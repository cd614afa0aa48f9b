package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/adapter/repo"
	"server/internal/domain"
)

// grantcredit mints credit entries directly, bypassing the payment webhook.
// Meant for support cases and local development.
func main() {
	var (
		identityFlag string
		creditsFlag  int
		subDaysFlag  int
	)

	flag.StringVar(&identityFlag, "identity", "", "owner identity to credit")
	flag.IntVar(&creditsFlag, "credits", 0, "number of single-use export credits to grant")
	flag.IntVar(&subDaysFlag, "subscription-days", 0, "length of a subscription window to grant, in days")
	flag.Parse()

	identity := strings.TrimSpace(identityFlag)
	if identity == "" {
		exitWithError(errors.New("-identity is required"))
	}
	if creditsFlag <= 0 && subDaysFlag <= 0 {
		exitWithError(errors.New("either -credits or -subscription-days must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	credits := repo.NewCreditRepository(pool)
	now := time.Now().UTC()

	if creditsFlag > 0 {
		entry := &domain.CreditEntry{
			ID:             uuid.NewString(),
			OwnerIdentity:  identity,
			Kind:           domain.CreditKindSingleUse,
			RemainingCount: creditsFlag,
			SourceEventID:  "grant:" + uuid.NewString(),
			CreatedAt:      now,
		}
		if _, err := credits.InsertEntry(ctx, entry); err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("granted %d single-use credit(s) to %s\n", creditsFlag, identity)
	}

	if subDaysFlag > 0 {
		until := now.Add(time.Duration(subDaysFlag) * 24 * time.Hour)
		entry := &domain.CreditEntry{
			ID:            uuid.NewString(),
			OwnerIdentity: identity,
			Kind:          domain.CreditKindSubscriptionWindow,
			ValidUntil:    &until,
			SourceEventID: "grant:" + uuid.NewString(),
			CreatedAt:     now,
		}
		if _, err := credits.InsertEntry(ctx, entry); err != nil {
			exitWithError(fmt.Errorf("failed to grant subscription: %w", err))
		}
		fmt.Printf("granted subscription until %s to %s\n", until.Format(time.RFC3339), identity)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
