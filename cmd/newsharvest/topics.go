package main

import (
	"github.com/spf13/cobra"

	"github.com/pevans/newsharvest/config"
	"github.com/pevans/newsharvest/topics"
)

func newTopicsCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the topics of the registry",
		Long: `Print every topic expanded from the registry file, with the endpoint
its listing is read from. References with neither a collection nor a feed
are listed as unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			registry, err := topics.Load(cfg.Topics.File, cfg.Site.BaseURL, cfg.Site.APIURL)
			if err != nil {
				return err
			}

			renderTopics(cmd.OutOrStdout(), registry)
			return nil
		},
	}
}
