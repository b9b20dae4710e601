// Command overstay-lambda runs the overstay sweep from an EventBridge
// schedule instead of the API server's ticker.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/wolfman30/hotel-pms-backend/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hotel-pms-backend/internal/config"
	"github.com/wolfman30/hotel-pms-backend/internal/overstay"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

type sweeper interface {
	DetectAll(ctx context.Context, now time.Time) (*overstay.SweepResult, error)
}

type summary struct {
	SweptAt    time.Time         `json:"swept_at"`
	Properties int               `json:"properties"`
	Flagged    int               `json:"flagged"`
	Failed     map[string]string `json:"failed,omitempty"`
}

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	db, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if db == nil {
		logger.Error("DATABASE_URL is required for the overstay sweep")
		os.Exit(1)
	}
	defer db.Close()

	store := bootstrap.BuildBookingStore(db, cfg, logger)
	// Events land in the outbox; the API server's deliverer forwards them.
	publisher := bootstrap.BuildPublisher(db, nil, cfg, logger)
	detector := overstay.NewDetector(store, publisher, nil, logger)

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (summary, error) {
		return handle(ctx, detector, evt, logger)
	})
}

func handle(ctx context.Context, s sweeper, evt events.CloudWatchEvent, logger *logging.Logger) (summary, error) {
	now := evt.Time.UTC()
	if evt.Time.IsZero() {
		now = time.Now().UTC()
	}
	res, err := s.DetectAll(ctx, now)
	if err != nil {
		logger.Error("overstay sweep failed", "error", err, "event_id", evt.ID)
		return summary{}, err
	}
	out := summary{SweptAt: now, Properties: len(res.Properties), Flagged: res.Flagged(), Failed: res.Failed}
	logger.Info("overstay sweep complete", "event_id", evt.ID, "properties", out.Properties, "flagged", out.Flagged, "failed", len(out.Failed))
	if len(res.Properties) == 0 && len(res.Failed) > 0 {
		return out, errors.New("overstay sweep failed for every property")
	}
	return out, nil
}
