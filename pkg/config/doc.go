// Package config loads typed configuration from environment variables.
//
// Structs declare their variables with caarlos0/env tags. Values from a
// dotenv file (".env" by default) fill in variables the process does not
// already have. Parsed structs are cached per type and prefix, so packages
// can call Load for shared configuration without parsing it twice.
//
//	type AppConfig struct {
//		Env       string `env:"APP_ENV" envDefault:"development"`
//		RulesFile string `env:"RULES_FILE" envDefault:"rules.yaml"`
//	}
//
//	var app AppConfig
//	config.MustLoad(&app)
package config
