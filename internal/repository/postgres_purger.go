package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TablePurger deletes tenant-owned rows from a configured list of tables,
// each keyed by a tenant_id column.
type TablePurger struct {
	db     *pgxpool.Pool
	tables []string
}

// NewTablePurger creates a purger over tables. Names may be schema qualified.
func NewTablePurger(db *pgxpool.Pool, tables []string) *TablePurger {
	return &TablePurger{db: db, tables: append([]string(nil), tables...)}
}

var _ Purger = (*TablePurger)(nil)

// PurgeTenant removes the tenant's rows from every table, in order, and must
// run inside the hard-delete transaction.
func (p *TablePurger) PurgeTenant(ctx context.Context, tenantID string) (map[string]int64, error) {
	if !inTx(ctx) {
		return nil, ErrNoTransaction
	}
	purged := make(map[string]int64, len(p.tables))
	for _, table := range p.tables {
		ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
		tag, err := conn(ctx, p.db).Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1::uuid`, ident), tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		purged[table] = tag.RowsAffected()
	}
	return purged, nil
}
