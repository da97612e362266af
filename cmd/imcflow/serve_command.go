package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imcflow/internal/api"
	"imcflow/internal/config"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunService(func(cfg *config.Config, svc *api.RunService) error {
				if !cmd.Flags().Changed("bind") {
					bind = cfg.API.Bind
				}
				srv := api.NewServer(bind, cfg.API.Token, svc, ctx.log())
				if err := srv.Start(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving run status on http://%s\n", srv.Addr())
				<-cmd.Context().Done()
				srv.Stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to api.bind)")
	return cmd
}
