package application

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ----------------------------------------------
// Application Descriptor
// ----------------------------------------------

// Config describes a hosted application. It is loaded from the application
// section of a yaml config file and passed to the application's factory.
type Config struct {
	// ID is the unique identifier the application is served under
	ID string `mapstructure:"id"`

	// Name is a human-readable name (defaults to ID)
	Name string `mapstructure:"name"`

	// Version is an opaque version string reported in responses
	Version string `mapstructure:"version"`

	// Factory names the registered factory used to instantiate the
	// application (see Register)
	Factory string `mapstructure:"factory"`

	// MaxBatchSize is the largest batch a replica hands to the application
	// in one call. 1 disables batching.
	MaxBatchSize int `mapstructure:"max_batch_size"`

	// File is the path of the config file this descriptor was loaded from.
	// Relative paths in Args are resolved against its directory.
	File string `mapstructure:"-"`

	// Args holds free-form application-specific settings
	Args map[string]any `mapstructure:"args"`
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(name string) {
		sb.WriteString(fmt.Sprintf("\n[%s]\n", name))
	}
	addField := func(name string, value interface{}) {
		sb.WriteString(fmt.Sprintf("  %-20s = %v\n", name, value))
	}

	addSection("Application")
	addField("ID", c.ID)
	addField("Name", c.Name)
	addField("Version", c.Version)
	addField("Factory", c.Factory)
	addField("MaxBatchSize", c.MaxBatchSize)
	addField("File", c.File)

	return sb.String()
}

// LoadConfig reads an application descriptor from the "application" section
// of the yaml file at path
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, Errorf(ResultApplicationConfigError, "failed to read config file %s: %v", path, err)
	}

	if !v.IsSet("application") {
		return nil, Errorf(ResultApplicationConfigError, "config file %s has no application section", path)
	}

	var cfg Config
	if err := v.UnmarshalKey("application", &cfg); err != nil {
		return nil, Errorf(ResultApplicationConfigError, "failed to parse config file %s: %v", path, err)
	}

	if cfg.ID == "" {
		return nil, Errorf(ResultApplicationConfigError, "config file %s: application.id is required", path)
	}
	if cfg.Factory == "" {
		return nil, Errorf(ResultApplicationConfigError, "config file %s: application.factory is required", path)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	cfg.File = path

	return &cfg, nil
}
