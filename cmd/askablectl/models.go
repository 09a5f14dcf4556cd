package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/app"
	"github.com/sahilchouksey/askable/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Long:  `List the model catalog, from MODELS_FILE or the built-in one, with OPENROUTER_MODEL applied.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		registry, err := app.NewRegistry(env)
		if err != nil {
			return fmt.Errorf("failed to load model catalog: %w", err)
		}
		renderModels(cmd.OutOrStdout(), registry.Catalog())
		return nil
	},
}

func renderModels(w io.Writer, catalog *config.Catalog) {
	if catalog == nil || len(catalog.Models) == 0 {
		fmt.Fprintln(w, "No models configured.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d models", len(catalog.Models))))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tMODEL\tPROVIDER\tCONTEXT\t")
	for _, m := range catalog.Models {
		slug := m.Slug
		if m.Default {
			slug += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t\n", slug, m.Model, m.Provider, m.ContextLength)
	}
	tw.Flush()
}
