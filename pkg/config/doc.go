// Package config loads env-tagged structs with github.com/caarlos0/env.
//
// Every component of the billing engine that needs settings exposes a
// Config struct with env tags and defaults; hosts compose them:
//
//	type Config struct {
//	    Postgres pgstore.Config
//	    Paddle   paddle.Config
//	}
//	cfg := config.MustLoad[Config]()
//
// A .env file in the working directory is read once, without overriding
// variables that are already set.
package config
