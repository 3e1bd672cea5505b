package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pevans/newsharvest/config"
	"github.com/pevans/newsharvest/sink"
)

func newRecordsCmd(cfgFile *string) *cobra.Command {
	var (
		kind   string
		id     string
		filter sink.Filter
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List stored records",
		Long: `Read back the records written by earlier runs. The first sqlite or
jsondir sink of sink.kind is read unless --sink names another one. CSV
output cannot be read back.`,
		Example: `  newsharvest records --category business --limit 5
  newsharvest records --sink jsondir --subcategory world
  newsharvest records --id 0b6f4c9e-3f0a-4c55-9d3e-8e8f0d1c2b3a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			if kind == "" {
				var ok bool
				if kind, ok = sink.ReadableKind(cfg.Sink.Kind); !ok {
					return errors.New("no readable sink configured; use sqlite or jsondir")
				}
			}

			reader, err := sink.OpenReader(kind, cfg.Sink.Paths())
			if err != nil {
				return err
			}
			defer reader.Close()

			ctx := cmd.Context()

			if id != "" {
				recordID, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid record ID: %w", err)
				}
				record, err := reader.Get(ctx, recordID)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("record not found: %s", id)
				}
				renderRecord(cmd.OutOrStdout(), *record)
				return nil
			}

			result, err := reader.List(ctx, filter)
			if err != nil {
				return err
			}
			total, err := reader.Count(ctx)
			if err != nil {
				return err
			}

			renderRecords(cmd.OutOrStdout(), result.Records, total)

			if len(result.Errors) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nWarning: %d record file(s) could not be read:\n", len(result.Errors))
				for _, readErr := range result.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", readErr.Error())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "sink", "", "sink to read (sqlite or jsondir)")
	cmd.Flags().StringVar(&id, "id", "", "show the record with this ID in full")
	cmd.Flags().StringVar(&filter.Category, "category", "", "only records of this category")
	cmd.Flags().StringVar(&filter.Subcategory, "subcategory", "", "only records of this subcategory")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of records to display (0 for all)")
	return cmd
}
