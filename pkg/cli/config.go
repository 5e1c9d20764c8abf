package cli

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Credentials carries the API key pair used to sign private requests. Both
// fields may be empty, in which case only public commands work.
type Credentials struct {
	Key    string
	Secret string
}

// LoadCredentials reads KRAKEN_API_KEY and KRAKEN_API_SECRET from the given
// env-format file (if it exists) with process environment variables taking
// precedence. A missing file is not an error; an unreadable one is.
func LoadCredentials(envFile string) (Credentials, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(envFile); statErr == nil {
				return Credentials{}, fmt.Errorf("failed to read credentials file %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	return Credentials{
		Key:    v.GetString("KRAKEN_API_KEY"),
		Secret: v.GetString("KRAKEN_API_SECRET"),
	}, nil
}
