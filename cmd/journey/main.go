package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/bootstrap"
	sentryutil "github.com/fitglue/journey/pkg/infrastructure/sentry"
	"github.com/fitglue/journey/pkg/types"
)

type seedOptions struct {
	SubjectID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	StartDate    string
}

func (o seedOptions) requested() bool {
	return o.AccessToken != "" || o.RefreshToken != ""
}

func main() {
	subject := flag.String("subject", "", "Subject (athlete) id to sync")
	all := flag.Bool("all", false, "Sync every stored subject")
	var seed seedOptions
	flag.StringVar(&seed.AccessToken, "seed-access", "", "Store this access token for -subject before syncing")
	flag.StringVar(&seed.RefreshToken, "seed-refresh", "", "Store this refresh token for -subject before syncing")
	flag.Int64Var(&seed.ExpiresAt, "seed-expires", 0, "Expiry of the seeded access token (unix seconds)")
	flag.StringVar(&seed.StartDate, "seed-start", "", "Journey start date of the seeded subject (YYYY-MM-DD)")
	flag.Parse()

	if (*subject == "") == !*all {
		fmt.Fprintln(os.Stderr, "exactly one of -subject or -all is required")
		flag.Usage()
		os.Exit(2)
	}
	seed.SubjectID = *subject

	if err := run(*subject, seed); err != nil {
		fmt.Fprintf(os.Stderr, "journey: %v\n", err)
		os.Exit(1)
	}
}

func run(subject string, seed seedOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger("journey-cli", cfg.LogLevel)

	svc, err := bootstrap.NewService(ctx, "journey-cli", cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sentryutil.Flush(2 * time.Second)
		if err := svc.Close(context.Background()); err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	if seed.requested() {
		if seed.SubjectID == "" {
			return errors.New("seeding requires -subject")
		}
		if err := seedSubject(ctx, svc.Store, seed, time.Now()); err != nil {
			return err
		}
		logger.Info("Seeded subject credentials", "subject_id", seed.SubjectID)
	}

	if subject != "" {
		res, err := svc.Journey.RunForSubject(ctx, subject)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s, %.1f mi, annotated %d, skipped %d, failed %d\n",
			res.SubjectID, res.Stage, res.CumulativeMiles, res.Annotated, res.Skipped, res.Failed)
		return nil
	}

	batch, err := svc.Journey.RunForAll(ctx)
	if err != nil {
		return err
	}
	for _, res := range batch.Results {
		fmt.Printf("%s: %s, %.1f mi, annotated %d\n", res.SubjectID, res.Stage, res.CumulativeMiles, res.Annotated)
	}
	for subjectID, err := range batch.Errors {
		fmt.Printf("%s: failed: %v\n", subjectID, err)
	}
	if batch.Failed() > 0 {
		return fmt.Errorf("%d of %d subjects failed", batch.Failed(), batch.Failed()+batch.Succeeded())
	}
	return nil
}

// seedSubject writes the credentials of a single-user setup. An existing
// record keeps its start date unless one is given.
func seedSubject(ctx context.Context, store shared.CredentialStore, seed seedOptions, now time.Time) error {
	if seed.AccessToken == "" || seed.RefreshToken == "" || seed.ExpiresAt <= 0 {
		return errors.New("-seed-access, -seed-refresh and -seed-expires are required together")
	}

	rec, err := store.GetToken(ctx, seed.SubjectID)
	switch {
	case errors.Is(err, shared.ErrSubjectNotFound):
		rec = &types.TokenRecord{SubjectID: seed.SubjectID, CreatedAt: now.UTC()}
	case err != nil:
		return fmt.Errorf("load subject: %w", err)
	}

	if seed.StartDate != "" {
		start, err := types.ParseDate(seed.StartDate)
		if err != nil {
			return fmt.Errorf("-seed-start: %w", err)
		}
		rec.JourneyStartDate = start
	}
	rec.AccessToken = seed.AccessToken
	rec.RefreshToken = seed.RefreshToken
	rec.ExpiresAt = time.Unix(seed.ExpiresAt, 0).UTC()
	rec.UpdatedAt = now.UTC()

	return store.PutToken(ctx, rec)
}
