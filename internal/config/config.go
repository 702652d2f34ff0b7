// Package config loads the run configuration from a JSON file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/naka-gawa/clone-traffic/internal/domain"
	"github.com/spf13/viper"
)

const (
	DefaultPath      = "config.json"
	DefaultUserAgent = "clone-traffic"
	DefaultAPIURL    = "https://api.github.com/"
	DefaultTimeout   = 30 * time.Second

	tokenEnv = "GITHUB_TOKEN"
)

// Config is loaded once at startup and passed by value/pointer into constructors.
// Nothing in this package keeps a global copy.
type Config struct {
	Token            string        `mapstructure:"token" validate:"required"`
	DBPath           string        `mapstructure:"db_path" validate:"required"`
	Repos            [][]string    `mapstructure:"repos" validate:"dive,len=2,dive,required"`
	UserAgent        string        `mapstructure:"user_agent" validate:"required"`
	APIURL           string        `mapstructure:"api_url" validate:"required,url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RateLimitMaxWait time.Duration `mapstructure:"rate_limit_max_wait"`
	LogFile          string        `mapstructure:"log_file"`
}

// Load reads the JSON file at path, overlays GITHUB_TOKEN, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("request_timeout", DefaultTimeout)
	v.SetDefault("rate_limit_max_wait", time.Duration(0))
	if err := v.BindEnv("token", tokenEnv); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", tokenEnv, err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if !strings.HasSuffix(c.APIURL, "/") {
		c.APIURL += "/"
	}
	return &c, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		var invalidValidationError *validator.InvalidValidationError
		if errors.As(err, &invalidValidationError) {
			return fmt.Errorf("validator misuse: %w", err)
		}
		return err
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.RateLimitMaxWait < 0 {
		return errors.New("rate_limit_max_wait must not be negative")
	}
	return nil
}

// Targets returns the configured repositories in file order.
func (c *Config) Targets() []domain.RepoRef {
	targets := make([]domain.RepoRef, 0, len(c.Repos))
	for _, pair := range c.Repos {
		targets = append(targets, domain.RepoRef{Owner: pair[0], Name: pair[1]})
	}
	return targets
}
