package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type consentView struct {
	ClientID     string    `yaml:"client_id"`
	Scope        []string  `yaml:"scope"`
	RedirectURI  string    `yaml:"redirect_uri"`
	ResponseType string    `yaml:"response_type"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

func newConsentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "consent",
		Short:   "Manage the applications users have authorized",
		Aliases: []string{"consents"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [USER_ID]",
		Short: "List the consent records of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			apps, err := sp.ConsentTracker().List(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list consents: %w", err)
			}
			views := make([]consentView, 0, len(apps))
			for _, app := range apps {
				views = append(views, consentView{
					ClientID:     app.ClientID,
					Scope:        app.Scopes,
					RedirectURI:  app.RedirectURI,
					ResponseType: app.ResponseType,
					UpdatedAt:    app.UpdatedAt,
				})
			}
			return printYAML(cmd.OutOrStdout(), views)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [USER_ID] [CLIENT_ID]",
		Short: "Revoke the consent a user gave to a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := sp.ConsentTracker().Revoke(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to revoke consent: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Consent of %s for %s revoked\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-all [USER_ID]",
		Short: "Revoke every consent of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			n, err := sp.ConsentTracker().RevokeAll(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to revoke consents: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d consents revoked\n", n)
			return nil
		},
	})

	return cmd
}
