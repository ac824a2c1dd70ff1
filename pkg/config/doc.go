// Package config loads typed configuration structs from environment
// variables using `env` struct tags, with .env file support for local
// development.
//
// Usage:
//
//	type AppConfig struct {
//		Name string `env:"APP_NAME" envDefault:"prepdeck"`
//		Port int    `env:"PORT" envDefault:"8080"`
//	}
//
//	var cfg AppConfig
//	config.MustLoad(&cfg)
package config
