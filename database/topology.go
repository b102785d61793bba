package database

import (
	"context"
	"database/sql"

	"github.com/parleylabs/parley/internal/apierror"
)

// EnsureTopologyKey writes the topology key once, as a side effect of API
// process initialization. If a key already exists the stored one wins and is
// returned, so every process converges on the first writer's identity.
func (d Datasource) EnsureTopologyKey(ctx context.Context, key string) (string, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO topology (id, topology_key) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, key)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to write topology key", err)
	}

	return d.GetTopologyKey(ctx)
}

// GetTopologyKey returns the stored topology key, or "" when the API process
// has not initialized the datastore yet.
func (d Datasource) GetTopologyKey(ctx context.Context) (string, error) {
	var key string
	err := d.Conn.QueryRowContext(ctx, `SELECT topology_key FROM topology WHERE id = 1`).Scan(&key)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read topology key", err)
	}
	return key, nil
}
