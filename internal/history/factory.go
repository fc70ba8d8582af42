package history

import (
	"context"
	"errors"
	"fmt"

	"promptkeeper/config"
	"promptkeeper/internal/storage"
)

// Result holds the initialized recorder, reader and their storage.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Recorder RecorderInterface
	Reader   Reader
	Storage  storage.Storage
}

// Close releases all resources held by the history layer.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Recorder != nil {
		if err := r.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the history layer from configuration: the shared storage
// connection, the backend-specific store and reader, and the async recorder.
// The caller must call Result.Close() during shutdown.
//
// If recording is disabled, returns a NoopRecorder, a nil Reader and no storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.History.Enabled {
		return &Result{
			Recorder: &NoopRecorder{},
		}, nil
	}

	store, err := storage.New(ctx, storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: cfg.Storage.PostgresMaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoURL,
			Database: cfg.Storage.MongoDatabase,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	exchangeStore, reader, err := newStoreAndReader(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	recorderCfg := Config{
		Enabled:       true,
		BufferSize:    cfg.History.BufferSize,
		FlushInterval: cfg.History.FlushInterval,
	}

	return &Result{
		Recorder: NewRecorder(exchangeStore, recorderCfg),
		Reader:   reader,
		Storage:  store,
	}, nil
}

// newStoreAndReader creates the store and reader for the storage backend.
func newStoreAndReader(store storage.Storage) (Store, Reader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		s, err := NewSQLiteStore(store.SQLiteDB())
		if err != nil {
			return nil, nil, err
		}
		r, err := NewSQLiteReader(store.SQLiteDB())
		if err != nil {
			return nil, nil, err
		}
		return s, r, nil

	case storage.TypePostgreSQL:
		s, err := NewPostgreSQLStore(store.PostgreSQLPool())
		if err != nil {
			return nil, nil, err
		}
		r, err := NewPostgreSQLReader(store.PostgreSQLPool())
		if err != nil {
			return nil, nil, err
		}
		return s, r, nil

	case storage.TypeMongoDB:
		s, err := NewMongoDBStore(store.MongoDatabase())
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMongoDBReader(store.MongoDatabase())
		if err != nil {
			return nil, nil, err
		}
		return s, r, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
