package config

import (
	"os"
	"time"
)

type Config struct {
	HTTP_PORT string `env:"HTTP_PORT"`
	DB_STRING string `env:"DB_STRING"`

	KAFKA_BROKERS  string `env:"KAFKA_BROKERS"`
	KAFKA_TOPIC    string `env:"KAFKA_TOPIC"`
	KAFKA_GROUP_ID string `env:"KAFKA_GROUP_ID"`

	// SSLCommerz validator credentials. The validator URL is overridable so the
	// sandbox endpoint can be swapped for the live one without a rebuild.
	SSLCZ_STORE_ID      string `env:"SSLCZ_STORE_ID"`
	SSLCZ_STORE_PASSWD  string `env:"SSLCZ_STORE_PASSWD"`
	SSLCZ_VALIDATOR_URL string `env:"SSLCZ_VALIDATOR_URL"`
	SSLCZ_TIMEOUT       time.Duration

	// When true the browser redirect-back is allowed to apply the
	// pending->processing transition itself. Only for sandbox setups where the
	// IPN cannot reach this host; in production the IPN is authoritative and
	// the redirect is cosmetic.
	GATEWAY_RETURN_APPLIES bool
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTP_PORT:              os.Getenv("HTTP_PORT"),
		DB_STRING:              os.Getenv("DB_STRING"),
		KAFKA_BROKERS:          os.Getenv("KAFKA_BROKERS"),
		KAFKA_TOPIC:            os.Getenv("KAFKA_TOPIC"),
		KAFKA_GROUP_ID:         os.Getenv("KAFKA_GROUP_ID"),
		SSLCZ_STORE_ID:         os.Getenv("SSLCZ_STORE_ID"),
		SSLCZ_STORE_PASSWD:     os.Getenv("SSLCZ_STORE_PASSWD"),
		SSLCZ_VALIDATOR_URL:    os.Getenv("SSLCZ_VALIDATOR_URL"),
		GATEWAY_RETURN_APPLIES: os.Getenv("GATEWAY_RETURN_APPLIES") == "true",
	}

	if cfg.HTTP_PORT == "" {
		cfg.HTTP_PORT = "8080"
	}
	if cfg.KAFKA_TOPIC == "" {
		cfg.KAFKA_TOPIC = "order-events"
	}
	if cfg.KAFKA_GROUP_ID == "" {
		cfg.KAFKA_GROUP_ID = "order-notifications"
	}
	if cfg.SSLCZ_VALIDATOR_URL == "" {
		cfg.SSLCZ_VALIDATOR_URL = "https://sandbox.sslcommerz.com/validator/api/validationserverAPI.php"
	}
	if v := os.Getenv("SSLCZ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SSLCZ_TIMEOUT = d
		}
	}
	if cfg.SSLCZ_TIMEOUT == 0 {
		cfg.SSLCZ_TIMEOUT = 10 * time.Second
	}

	return cfg, nil
}
