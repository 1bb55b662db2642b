package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Abmstpha/sdckit/internal/pipeline"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// CLIConfig is the file-backed part of the configuration surface. Flags
// override whatever the file provides.
type CLIConfig struct {
	Delimiter     string                `mapstructure:"delimiter"`
	MissingMarker string                `mapstructure:"missing_marker"`
	Keys          models.KeyVars        `mapstructure:"key_variables"`
	K             int                   `mapstructure:"k"`
	UseModel      bool                  `mapstructure:"use_model"`
	GroupSize     int                   `mapstructure:"group_size"`
	Importance    map[string]float64    `mapstructure:"importance"`
	Recodes       []pipeline.RecodeSpec `mapstructure:"recodes"`
	Noise         NoiseConfig           `mapstructure:"noise"`
	PRAM          PRAMConfig            `mapstructure:"pram"`
}

// NoiseConfig mirrors perturb.NoiseConfig for file configuration.
type NoiseConfig struct {
	Method    string  `mapstructure:"method"`
	Magnitude float64 `mapstructure:"magnitude"`
	Seed      int64   `mapstructure:"seed"`
}

// PRAMConfig mirrors perturb.PRAMConfig for file configuration; explicit
// transition matrices stay programmatic.
type PRAMConfig struct {
	Variables []string `mapstructure:"variables"`
	Diagonal  float64  `mapstructure:"diagonal"`
	Seed      int64    `mapstructure:"seed"`
}

// LoadConfig reads the sdckit config file, falling back to defaults when
// no file exists.
func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := &CLIConfig{
		Delimiter:     ",",
		MissingMarker: "NA",
		K:             3,
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configPath := filepath.Join(home, ".sdckit")
		viper.AddConfigPath(configPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SDCKIT")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("delimiter", config.Delimiter)
	viper.SetDefault("missing_marker", config.MissingMarker)
	viper.SetDefault("k", config.K)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}
