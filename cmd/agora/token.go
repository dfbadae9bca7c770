package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agora.org/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Mint a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		issuer, err := auth.NewIssuer(cfg.Auth.Secret,
			auth.WithIssuerName(cfg.Auth.Issuer),
			auth.WithTTL(cfg.Auth.TokenTTL))
		if err != nil {
			return err
		}
		token, exp, err := issuer.Issue(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		out, err := json.Marshal(map[string]string{
			"token":      token,
			"expires_at": exp.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
