package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"onnxd/internal/config"
	"onnxd/internal/registry"
)

func newModelsCmd(rf *rootFlags) *cobra.Command {
	var modelsDir string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models found in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf, config.Config{ModelsDir: modelsDir})
			if err != nil {
				return err
			}
			models, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				return fmt.Errorf("scan %s: %w", cfg.ModelsDir, err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFORMAT\tFAMILY\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Format, m.Family, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "Directory to scan for models")
	return cmd
}
