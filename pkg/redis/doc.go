// Package redis connects to Redis using environment-driven configuration.
//
// Connect retries the initial ping so the service can start before Redis is
// reachable in container setups. The client backs the distributed
// transition lock in pkg/transition/redislock.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
