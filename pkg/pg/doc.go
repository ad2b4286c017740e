// Package pg wires PostgreSQL through the pgx/v5 driver: a retrying pool
// constructor, goose migrations from embedded file systems, a
// context-carried transaction helper and error classification.
//
// Repositories obtain their query surface with Conn(ctx, pool). When the
// call runs inside Transactor.WithinTx the returned DBTX is the open
// transaction, so several repositories commit or roll back together:
//
//	tx := pg.NewTransactor(pool)
//	err := tx.WithinTx(ctx, func(ctx context.Context) error {
//		if _, err := pg.Conn(ctx, pool).Exec(ctx, "UPDATE ..."); err != nil {
//			return err
//		}
//		return auditLog.Append(ctx, record)
//	})
//
// Configuration is read from PG_* environment variables, see Config.
package pg
