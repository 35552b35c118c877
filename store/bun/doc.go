// Package bunstore implements store.Store using the Bun ORM with
// PostgreSQL dialect. The conditional order write and the stock
// decrement run inside transactions with SELECT ... FOR UPDATE, so the
// version compare and the availability check are race-free.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/tidemark/orderflow/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
