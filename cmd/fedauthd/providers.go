package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/panyam/fedauth/config"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the configured identity providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		providers, err := cfg.Providers()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(providers) == 0 {
			fmt.Fprintln(out, "no providers configured")
			return nil
		}
		for _, p := range providers {
			kind := "oauth2"
			if p.IssuerURL != "" {
				kind = "oidc"
			}
			fmt.Fprintf(out, "%-12s %-7s %s\n", p.Name, kind, p.CallbackURL)
		}
		return nil
	},
}
