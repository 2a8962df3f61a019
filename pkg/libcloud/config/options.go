package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabaseURL selects the repository: "memory" or a postgres URL
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL selects the blob store
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// WithSession sets the session signing secret and lifetime
func WithSession(secret string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.SessionSecret = secret
		if ttl > 0 {
			c.SessionTTL = ttl
		}
		return nil
	}
}

// WithPasswordCost overrides the bcrypt cost
func WithPasswordCost(cost int) Option {
	return func(c *ServerConfig) error {
		c.PasswordCost = cost
		return nil
	}
}
