// Package mongo connects to MongoDB using environment-driven configuration.
//
// The database returned by Database backs pkg/transition/mongostore.
// Multi-document transactions used by mongostore.Transactor require a
// replica set or sharded cluster.
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	db, err := mongo.Database(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
