package commands

import (
	"fmt"
	"time"

	"hippo/pkg/acl"
	"hippo/pkg/app"
	"hippo/pkg/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tokenGroups []string
	tokenScopes []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:         "token USER",
	Short:       "Issue an API token for USER signed with server.jwt_secret",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipApp: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("server.jwt_secret")
		if secret == "" {
			return fmt.Errorf("server.jwt_secret is not set")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = viper.GetDuration("server.token_ttl")
		}

		ts := server.NewTokenService([]byte(secret), app.TokenIssuer, ttl)
		raw, err := ts.Issue(acl.Caller{Name: args[0], Groups: tokenGroups, Scopes: tokenScopes})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenGroups, "group", nil, "groups carried by the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "scopes carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default server.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}
