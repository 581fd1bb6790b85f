package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srus/yith-library-server/client"
)

type clientView struct {
	ID                string   `yaml:"client_id"`
	Secret            string   `yaml:"client_secret,omitempty"`
	Name              string   `yaml:"name"`
	MainURL           string   `yaml:"main_url"`
	CallbackURL       string   `yaml:"callback_url"`
	AuthorizedOrigins []string `yaml:"authorized_origins,omitempty"`
	ProductionReady   bool     `yaml:"production_ready"`
	OwnerID           string   `yaml:"owner_id"`
}

func newClientView(c *client.Client, secret string) clientView {
	return clientView{
		ID:                c.ID,
		Secret:            secret,
		Name:              c.Name,
		MainURL:           c.MainURL,
		CallbackURL:       c.CallbackURL,
		AuthorizedOrigins: c.AuthorizedOrigins,
		ProductionReady:   c.ProductionReady,
		OwnerID:           c.OwnerID,
	}
}

func newClientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "client",
		Short:   "Manage OAuth2 clients",
		Aliases: []string{"clients"},
	}
	cmd.AddCommand(newClientCreateCmd(a), newClientListCmd(a), newClientUpdateCmd(a), newClientDeleteCmd(a))
	return cmd
}

func newClientCreateCmd(a *app) *cobra.Command {
	var (
		owner string
		reg   client.Registration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new client; the secret is shown only once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("owner is required via --owner flag")
			}

			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			c, secret, err := sp.ClientService().CreateClient(cmd.Context(), owner, reg)
			if err != nil {
				return fmt.Errorf("client registration failed: %w", err)
			}
			return printYAML(cmd.OutOrStdout(), newClientView(c, secret))
		},
	}

	f := cmd.Flags()
	f.StringVar(&owner, "owner", "", "id of the developer that owns the client")
	f.StringVar(&reg.Name, "name", "", "application name")
	f.StringVar(&reg.MainURL, "main-url", "", "application home page")
	f.StringVar(&reg.CallbackURL, "callback-url", "", "absolute redirect URI")
	f.StringSliceVar(&reg.AuthorizedOrigins, "origin", nil, "origin allowed to call the API from a browser (repeatable)")
	f.BoolVar(&reg.ProductionReady, "production-ready", false, "list the client in the public directory")
	f.StringVar(&reg.ImageURL, "image-url", "", "application logo")
	f.StringVar(&reg.Description, "description", "", "application description")
	f.StringVar(&reg.OwnerEmail, "owner-email", "", "contact address shown on the consent screen")
	return cmd
}

func newClientListCmd(a *app) *cobra.Command {
	var (
		owner           string
		productionReady bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients by owner or the public directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			var clients []*client.Client
			switch {
			case owner != "":
				clients, err = sp.ClientService().ListClientsByOwner(cmd.Context(), owner)
			case productionReady:
				clients, err = sp.ClientService().ListProductionReady(cmd.Context())
			default:
				return errors.New("either --owner or --production-ready is required")
			}
			if err != nil {
				return fmt.Errorf("failed to list clients: %w", err)
			}

			views := make([]clientView, 0, len(clients))
			for _, c := range clients {
				views = append(views, newClientView(c, ""))
			}
			return printYAML(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "list the clients of this developer")
	cmd.Flags().BoolVar(&productionReady, "production-ready", false, "list the public directory")
	return cmd
}

func newClientUpdateCmd(a *app) *cobra.Command {
	var reg client.Registration

	cmd := &cobra.Command{
		Use:   "update [CLIENT_ID]",
		Short: "Edit a client; the id and secret never change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			current, err := sp.ClientService().GetClient(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load client: %w", err)
			}

			// Flags left unset keep the stored value.
			f := cmd.Flags()
			merged := client.Registration{
				Name:              pick(f.Changed("name"), reg.Name, current.Name),
				MainURL:           pick(f.Changed("main-url"), reg.MainURL, current.MainURL),
				CallbackURL:       pick(f.Changed("callback-url"), reg.CallbackURL, current.CallbackURL),
				AuthorizedOrigins: pick(f.Changed("origin"), reg.AuthorizedOrigins, current.AuthorizedOrigins),
				ProductionReady:   pick(f.Changed("production-ready"), reg.ProductionReady, current.ProductionReady),
				ImageURL:          pick(f.Changed("image-url"), reg.ImageURL, current.ImageURL),
				Description:       pick(f.Changed("description"), reg.Description, current.Description),
				OwnerEmail:        pick(f.Changed("owner-email"), reg.OwnerEmail, current.OwnerEmail),
			}

			c, err := sp.ClientService().UpdateClient(cmd.Context(), current.ID, merged)
			if err != nil {
				return fmt.Errorf("client update failed: %w", err)
			}
			return printYAML(cmd.OutOrStdout(), newClientView(c, ""))
		},
	}

	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "application name")
	f.StringVar(&reg.MainURL, "main-url", "", "application home page")
	f.StringVar(&reg.CallbackURL, "callback-url", "", "absolute redirect URI")
	f.StringSliceVar(&reg.AuthorizedOrigins, "origin", nil, "origin allowed to call the API from a browser (repeatable)")
	f.BoolVar(&reg.ProductionReady, "production-ready", false, "list the client in the public directory")
	f.StringVar(&reg.ImageURL, "image-url", "", "application logo")
	f.StringVar(&reg.Description, "description", "", "application description")
	f.StringVar(&reg.OwnerEmail, "owner-email", "", "contact address shown on the consent screen")
	return cmd
}

func pick[T any](changed bool, flag, stored T) T {
	if changed {
		return flag
	}
	return stored
}

func newClientDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [CLIENT_ID]",
		Short: "Delete a client with its codes, tokens and consents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := sp.ClientService().DeleteClient(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete client: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Client %s deleted\n", args[0])
			return nil
		},
	}
}
