// Package config loads the server configuration from EVENTHUB_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. EVENTHUB_HTTP_PORT.
const Prefix = "EVENTHUB"

// Config captures environment driven configuration values for the API server.
type Config struct {
	HTTPPort  int    `envconfig:"HTTP_PORT" default:"8080"`
	SQLiteDSN string `envconfig:"SQLITE_DSN" default:"data/eventhub.db"`

	JWTSecret        string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL           time.Duration `envconfig:"JWT_TTL" default:"24h"`
	PasswordResetTTL time.Duration `envconfig:"PASSWORD_RESET_TTL" default:"10m"`

	BlobDir string `envconfig:"BLOB_DIR" default:"./data/blobs"`

	// AMQPURL is optional; mail jobs are only logged when it is empty.
	AMQPURL      string `envconfig:"AMQP_URL"`
	MailExchange string `envconfig:"MAIL_EXCHANGE" default:"mail"`

	// Checkout of paid tickets is disabled unless both keys are set.
	OmisePublicKey    string `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey    string `envconfig:"OMISE_SECRET_KEY"`
	Currency          string `envconfig:"CURRENCY" default:"thb"`
	CheckoutReturnURL string `envconfig:"CHECKOUT_RETURN_URL"`

	OTELEndpoint string `envconfig:"OTEL_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"eventhub"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// PaymentsEnabled reports whether an Omise key pair is configured.
func (c Config) PaymentsEnabled() bool {
	return c.OmisePublicKey != "" && c.OmiseSecretKey != ""
}

// Load reads .env from the working directory when present and then parses
// the process environment. Variables already set win over the file.
func Load() (Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files. Missing files are skipped.
func LoadFiles(files ...string) (Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	invalid := make([]string, 0, 4)

	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	if c.JWTSecret == "" {
		return fmt.Errorf("required key %s_JWT_SECRET missing value", Prefix)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, Prefix+"_HTTP_PORT")
	}
	if strings.TrimSpace(c.SQLiteDSN) == "" {
		invalid = append(invalid, Prefix+"_SQLITE_DSN")
	}
	if c.JWTTTL <= 0 {
		invalid = append(invalid, Prefix+"_JWT_TTL")
	}
	if c.PasswordResetTTL <= 0 {
		invalid = append(invalid, Prefix+"_PASSWORD_RESET_TTL")
	}
	if (c.OmisePublicKey == "") != (c.OmiseSecretKey == "") {
		invalid = append(invalid, Prefix+"_OMISE_PUBLIC_KEY/"+Prefix+"_OMISE_SECRET_KEY")
	}
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		invalid = append(invalid, Prefix+"_CURRENCY")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		invalid = append(invalid, Prefix+"_LOG_LEVEL")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		invalid = append(invalid, Prefix+"_LOG_FORMAT")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return nil
}
