package main

import (
	"encoding/json"

	"github.com/jonathan/levelup/internal/observability"
	"github.com/jonathan/levelup/internal/types"
	"github.com/spf13/cobra"
)

func newStagesCmd(_ *app) *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:         "stages",
		Short:       "Show the curriculum",
		Long:        `Print stages, tasks, unlock thresholds and ranks of the built-in curriculum or a YAML file.`,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(types.StagesResponse{
					Stages:        catalog.Stages,
					Ranks:         catalog.Ranks,
					MaxExperience: catalog.MaxExperience(),
				})
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintStages(catalog)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Curriculum YAML file (default: built-in)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
