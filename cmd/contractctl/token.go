package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"contractflow/api/internal/auth"
	"contractflow/api/internal/rbac"
)

var tokenFlags struct {
	subject string
	name    string
	role    string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl := tokenFlags.ttl
		if ttl <= 0 {
			ttl = cfg.GetDuration(cfgKeyTokenTTL)
		}
		role := string(rbac.Normalize(tokenFlags.role))
		token, err := auth.IssueToken([]byte(cfg.GetString(cfgKeyJWTSecret)), tokenFlags.subject, tokenFlags.name, role, ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.subject, "sub", "", "user id carried as the token subject")
	f.StringVar(&tokenFlags.name, "name", "", "display name")
	f.StringVar(&tokenFlags.role, "role", "editor", "viewer, editor or admin")
	f.DurationVar(&tokenFlags.ttl, "ttl", 0, "token lifetime (default from config)")
	_ = tokenCmd.MarkFlagRequired("sub")
}
