// Package main is the entry point for the padron CLI.
package main

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/padronkit/padron-core/internal/config"
	"github.com/padronkit/padron-core/internal/logging"
)

const (
	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"
)

var userConfig string

var rootCmd = &cobra.Command{
	Use:   "padron",
	Short: "Taxpayer registry lookups authorized through WSAA",
	Long: `padron obtains access tickets from the AFIP/ARCA authentication service
(WSAA) by signing a login ticket request with the taxpayer's certificate, and
uses them to query the taxpayer registry (ws_sr_padron_a13).

Tickets are cached and persisted so repeated runs reuse a still-valid ticket
instead of requesting a new one.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		configPath, configErr := initConfig()
		if err := logging.Init(logging.Options{
			Level:   viper.GetString(LogLevelKey),
			Format:  viper.GetString(LogFormatKey),
			NoColor: viper.GetBool(LogNoColorKey),
		}); err != nil {
			return err
		}
		if configErr != nil {
			return configErr
		}
		if configPath != "" {
			log.Debug().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	logging.InitDefault()
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&userConfig, "config", "", "Config file (default is .padron.yaml in the current dir, $HOME or $XDG_CONFIG_HOME/padron)")

	bindString("log-level", LogLevelKey, "info", "Log level (debug, info, warn, error)")
	bindString("log-format", LogFormatKey, "console", "Log format (console, json)")
	pf.Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(LogNoColorKey, pf.Lookup("no-color"))

	bindString("env", config.EnvironmentKey, config.EnvProduction, "Environment (production, testing)")
	bindString("cuit", config.CUITKey, "", "Represented CUIT (the certificate owner)")
	bindString("service", config.ServiceKey, "", "Service name the ticket is requested for")
	bindString("cert", config.CertFileKey, "", "Path to the PEM certificate")
	bindString("key", config.KeyFileKey, "", "Path to the PEM private key")
	bindString("p12", config.P12FileKey, "", "Path to a PKCS#12 bundle (instead of --cert/--key)")
	bindString("p12-password", config.P12PasswordKey, "", "Password of the PKCS#12 bundle")
	bindString("authority-url", config.AuthorityURLKey, "", "Override the WSAA endpoint")
	bindString("registry-url", config.RegistryURLKey, "", "Override the registry endpoint")
	bindString("ca-file", config.CAFileKey, "", "Extra PEM roots for server verification")
	bindString("store", config.StoreTypeKey, "", "Credential store (file, redis, memory, none)")
	bindString("store-path", config.StorePathKey, "", "Directory of the file credential store")
	bindString("redis-url", config.RedisURLKey, "", "Redis URL for the redis credential store")

	pf.Duration("timeout", 0, "Network timeout per request")
	_ = viper.BindPFlag(config.TimeoutKey, pf.Lookup("timeout"))

	viper.SetEnvPrefix("PADRON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

// bindString registers a persistent string flag and binds it to a viper key.
func bindString(flag, key, value, usage string) {
	pf := rootCmd.PersistentFlags()
	pf.String(flag, value, usage)
	_ = viper.BindPFlag(key, pf.Lookup(flag))
}

func initConfig() (string, error) {
	if userConfig != "" {
		viper.SetConfigFile(userConfig)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + "/padron")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".padron")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
		return "", nil
	}
	return viper.ConfigFileUsed(), nil
}
