// Package config loads server configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr  string `env:"BAZAAR_LISTEN_ADDR" envDefault:"0.0.0.0"`
	ListenPort  int    `env:"BAZAAR_LISTEN_PORT" envDefault:"9660"`
	MetricsAddr string `env:"BAZAAR_METRICS_ADDR" envDefault:":9661"`

	// Owner is the platform administrator identity; Beneficiary receives
	// fees. Operator is the marketplace's own identity, the one sellers
	// must approve for transfers.
	Owner       string `env:"BAZAAR_OWNER,required"`
	Beneficiary string `env:"BAZAAR_BENEFICIARY,required"`
	Operator    string `env:"BAZAAR_OPERATOR" envDefault:"marketplace"`

	OwnerCutPerMillion uint64 `env:"BAZAAR_OWNER_CUT_PER_MILLION" envDefault:"0"`
	PublicationFee     uint64 `env:"BAZAAR_PUBLICATION_FEE" envDefault:"0"`

	// GenesisPath seeds the embedded ledgers; empty starts them empty.
	GenesisPath string `env:"BAZAAR_GENESIS"`
	// ArchiveDSN enables the postgres event archive when set.
	ArchiveDSN string `env:"BAZAAR_ARCHIVE_DSN"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
