package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/padronkit/padron-core/internal/logging"
	"github.com/padronkit/padron-core/pkg/padron"
)

var personaStrict bool

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Query the taxpayer registry",
}

var personaGetCmd = &cobra.Command{
	Use:   "get CUIT...",
	Short: "Look up taxpayers by CUIT",
	Long: `Look up one or more taxpayers in the registry (ws_sr_padron_a13) and print
the records as JSON.

Identifiers may contain dashes, dots or spaces. A CUIT the registry does not
know is reported with "found": false. With --strict any lookup that fails or
finds nothing makes the command exit non-zero.`,
	Example: `  padron persona get 20-31086883-4
  padron persona get 20310868834 27333276807 --env testing`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newSession(cmd.Context(), cfg, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.cfg.ValidateRegistry(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		svc, err := padron.NewService(padron.ServiceConfig{
			Credentials: s.keeper,
			Registry: padron.NewClient(padron.ClientOptions{
				URL:             s.cfg.RegistryURL,
				RepresentedCUIT: s.cfg.CUIT,
				Timeout:         s.cfg.Timeout,
				RootCAs:         s.rootCAs,
				Logger:          logging.Component("padron"),
			}),
			Logger: logging.Component("lookup"),
		})
		if err != nil {
			return err
		}

		results, err := svc.LookupMany(cmd.Context(), args)
		if err != nil {
			return err
		}

		var out any = results
		if len(results) == 1 {
			out = results[0]
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))

		if personaStrict {
			for _, r := range results {
				if r.Err != nil {
					return fmt.Errorf("lookup of %s failed: %w", r.CUIT, r.Err)
				}
				if !r.Found {
					return fmt.Errorf("%s not found in the registry", r.CUIT)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personaCmd)
	personaCmd.AddCommand(personaGetCmd)

	personaGetCmd.Flags().BoolVar(&personaStrict, "strict", false, "Exit non-zero if any lookup fails or finds nothing")
}
