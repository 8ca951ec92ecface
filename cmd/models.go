package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pkpdsim/pkpdsim/sim/models"
	"github.com/pkpdsim/pkpdsim/sim/scenario"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List bundled models with their compartments, parameters and captures",
	Run: func(cmd *cobra.Command, args []string) {
		if err := listModels(os.Stdout); err != nil {
			logrus.Fatalf("Listing models failed: %v", err)
		}
	},
}

func listModels(w io.Writer) error {
	for _, name := range models.Names() {
		m, err := models.Compile(name)
		if err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
		params := make([]string, 0, len(m.Params()))
		for _, p := range m.Params() {
			params = append(params, fmt.Sprintf("%s=%g", p.Name, p.Value))
		}
		d := m.Design()
		fmt.Fprintf(w, "%s\n", name)
		if desc := m.Description(); desc != "" {
			fmt.Fprintf(w, "  %s\n", desc)
		}
		fmt.Fprintf(w, "  compartments : %s\n", strings.Join(m.Compartments(), ", "))
		fmt.Fprintf(w, "  params       : %s\n", strings.Join(params, ", "))
		fmt.Fprintf(w, "  captures     : %s\n", strings.Join(m.Captures(), ", "))
		fmt.Fprintf(w, "  design       : %g..%g by %g\n", d.Start, d.End, d.Delta)
	}
	return nil
}

// --- pkpdsim spec ---

var specModel string

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Print the default run of a bundled model as a YAML run spec",
	Long:  "Print the run the CLI performs for a model without --spec, as a YAML run spec that can be edited and passed back with `pkpdsim run --spec`.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaultSpec(os.Stdout, specModel); err != nil {
			logrus.Fatalf("Spec generation failed: %v", err)
		}
	},
}

// writeDefaultSpec marshals the default run of model to YAML.
func writeDefaultSpec(w io.Writer, model string) error {
	cfg, err := models.Defaults(model)
	if err != nil {
		return err
	}
	m, err := models.Compile(model)
	if err != nil {
		return err
	}
	cfg.Design = m.Design()
	data, err := yaml.Marshal(scenario.FromRunConfig(model, cfg))
	if err != nil {
		return fmt.Errorf("YAML marshal failed: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func init() {
	specCmd.Flags().StringVar(&specModel, "model", "", "Bundled model name")
	_ = specCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(specCmd)
}
