package main

import (
	"github.com/spf13/cobra"
)

// rootCmd is the fedauthd entry point.  All settings come from FEDAUTH_*
// and OAUTH2_* environment variables.
var rootCmd = &cobra.Command{
	Use:   "fedauthd",
	Short: "Sign-in server with local passwords and external identity providers",
	Long: `fedauthd serves registration, password login, OAuth2/OpenID Connect
sign in, logout and the secrets pages on top of a pluggable identity store.

Configuration is read from the environment; see FEDAUTH_* and
OAUTH2_<PROVIDER>_* variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
}
