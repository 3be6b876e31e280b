// Package firestore implements the remote stores on Cloud Firestore, with
// Firebase Authentication as the identity provider for accounts.
package firestore

import (
	"context"
	"errors"
	"fmt"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

const serviceName = "firestore"

// Config holds the Firebase project settings
type Config struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// Store owns the Firestore and Auth clients shared by every adapter
type Store struct {
	client *fs.Client
	auth   *auth.Client
	guard  *remote.Guard
	logger *logging.Logger
}

// NewStore initializes the Firebase app. Without explicit credentials the
// application default credentials are used.
func NewStore(ctx context.Context, cfg Config, guard *remote.Guard, logger *logging.Logger) (*Store, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore client: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize Firebase auth client: %w", err)
	}

	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("Firestore store initialized", zap.String("project_id", cfg.ProjectID))

	return &Store{
		client: client,
		auth:   authClient,
		guard:  guard,
		logger: logger.WithFields(zap.String("store", serviceName)),
	}, nil
}

// Close releases the Firestore client
func (s *Store) Close() error {
	return s.client.Close()
}

// Accounts returns the account adapter
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{store: s} }

// AccountHistory returns the account history adapter
func (s *Store) AccountHistory() *AccountHistoryRepository {
	return &AccountHistoryRepository{store: s}
}

// WorkItems returns the work item adapter
func (s *Store) WorkItems() *WorkItemRepository { return &WorkItemRepository{store: s} }

// WorkItemHistory returns the work item history adapter
func (s *Store) WorkItemHistory() *WorkItemHistoryRepository {
	return &WorkItemHistoryRepository{store: s}
}

// PublishSnapshot overwrites the dashboard document
func (s *Store) PublishSnapshot(ctx context.Context, snapshot *entity.Snapshot) error {
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.client.Collection(schema.DashboardCollection).
			Doc(entity.SnapshotDocumentID).
			Set(ctx, schema.SnapshotToMap(snapshot))
		return wrap(err, "publish dashboard snapshot")
	})
}

func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	return s.guard.Do(ctx, fn)
}

// readAll decodes every document of a query
func readAll[D any](docs *fs.DocumentIterator, decode func(*fs.DocumentSnapshot) (D, error)) ([]D, error) {
	defer docs.Stop()

	var out []D
	for {
		snap, err := docs.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		d, err := decode(snap)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.Path, err)
		}
		out = append(out, d)
	}
}

// wrap maps gRPC status codes onto the application error taxonomy
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if common.GetAppError(err) != nil {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return common.WrapError(err, common.ErrCodeNotFound, op+": document not found")
	case codes.ResourceExhausted:
		return common.WrapError(err, common.ErrCodeRateLimited, op+": quota exhausted")
	case codes.AlreadyExists, codes.FailedPrecondition:
		return common.WrapError(err, common.ErrCodeConflict, op)
	default:
		return common.ErrExternalService(serviceName, fmt.Errorf("%s: %w", op, err))
	}
}
