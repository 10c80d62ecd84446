package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/config"
	"github.com/scrypster/memorytap/internal/identity"
)

const tokenLongDesc string = `Issue a signed bearer token for the HTTP API.

Only available when security.mode is jwt. The token's subject is the
owner given with --owner, or security.owner_id.

Examples:
  memorytap token --owner alice
  memorytap token --owner bob --ttl 24h`

type tokenResponse struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		Long:  tokenLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Security.Mode != config.SecurityJWT {
				return fmt.Errorf("tokens can only be issued in %s security mode", config.SecurityJWT)
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive")
			}

			p, err := identity.NewJWTProvider(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
			if err != nil {
				return err
			}
			owner := root.owner
			if owner == "" {
				owner = cfg.Security.OwnerID
			}
			token, err := p.Issue(owner, ttl)
			if err != nil {
				return err
			}

			res := tokenResponse{Token: token, OwnerID: owner, ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second)}
			return root.print(cmd.OutOrStdout(), res, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	return cmd
}
