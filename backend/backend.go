// Package backend implements harness.Store for MongoDB and PostgreSQL.
package backend

import (
	"context"
	"fmt"

	"github.com/weiihann/dbcompare/config"
	"github.com/weiihann/dbcompare/harness"
)

// Open connects to the backend named id and verifies the connection. A
// failure is returned as a *harness.ConnectionError. Connections are
// attempted once.
func Open(ctx context.Context, cfg *config.Config, id harness.Backend) (harness.Store, error) {
	var (
		store harness.Store
		err   error
	)

	switch id {
	case harness.MongoDB:
		store, err = OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case harness.PostgreSQL:
		store, err = OpenPostgres(ctx, cfg.Postgres.ConnString())
	default:
		err = fmt.Errorf("unknown backend %q", id)
	}

	if err != nil {
		return nil, &harness.ConnectionError{Backend: id, Err: err}
	}

	return store, nil
}
