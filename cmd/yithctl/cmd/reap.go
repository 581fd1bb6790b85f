package cmd

import (
	"github.com/spf13/cobra"
)

func newReapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired authorization codes and access codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := sp.Reaper().Reap(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), map[string]int64{
				"authorization_codes": res.AuthorizationCodes,
				"access_codes":        res.AccessCodes,
			})
		},
	}
}
