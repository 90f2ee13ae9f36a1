package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"

	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Store is a reservation store plus the handles the binary must release and
// probe.
type Store struct {
	reservations.Store
	Driver string
	Ping   func(ctx context.Context) error
	Close  func()
}

// BuildReservationStore selects the backend named by STORE_DRIVER.
func BuildReservationStore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() {}
	switch cfg.StoreDriver {
	case "", "memory":
		logger.Warn("using in-memory reservation store; data is lost on restart")
		return &Store{Store: reservations.NewMemoryStore(), Driver: "memory", Close: noop}, nil

	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		return &Store{Store: reservations.NewPostgresStore(pool), Driver: "postgres", Ping: pool.Ping, Close: pool.Close}, nil

	case "dynamodb":
		client := dynamodb.NewFromConfig(awsCfg)
		store := reservations.NewDynamoStore(client, cfg.ReservationsTable, logger)
		return &Store{Store: store, Driver: "dynamodb", Close: noop}, nil

	case "firestore":
		client, err := newFirestoreClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Store{
			Store:  reservations.NewFirestoreStore(client, cfg.ReservationsTable),
			Driver: "firestore",
			Close:  func() { _ = client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func newFirestoreClient(ctx context.Context, cfg *appconfig.Config) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: init firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: firestore client: %w", err)
	}
	return client, nil
}
