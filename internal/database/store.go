package database

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/docstore"
)

// OpenStore builds the document store selected by cfg.StoreDriver.  The
// returned close function releases the connection.
func OpenStore(ctx context.Context, cfg config.Config) (docstore.Store, func(), error) {
	var store docstore.Store
	closeFn := func() {}
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("database: using in-memory store, data is lost on exit")
		store = docstore.NewMemory()
	case config.DriverMySQL:
		db, err := Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		ms := docstore.NewMySQL(db)
		if err := ms.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = ms
		closeFn = func() { _ = ms.Close(context.Background()) }
	case config.DriverMongo:
		client, err := ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		mg := docstore.NewMongo(client, cfg.MongoDB)
		store = mg
		closeFn = func() { _ = mg.Close(context.Background()) }
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if !cfg.StoreTransactions {
		log.Infof("database: transactions disabled, ledger uses compensating writes")
		store = docstore.WithoutTransactions(store)
	}
	return store, closeFn, nil
}
