// Command kiln exports the browser extension's model set to ONNX.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiln-ml/kiln/internal/convert"
)

const version = "1.0.0"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "kiln",
		Short:         "Export detection, embedding and segmentation models to ONNX",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(convertCommand(&verbose))
	root.AddCommand(configCommand())
	root.AddCommand(versionCommand())
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = nil
	return cfg.Build()
}

func convertCommand(verbose *bool) *cobra.Command {
	var manifestPath, outDir string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Run the model conversion pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(*verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			m := convert.DefaultManifest()
			if manifestPath != "" {
				if m, err = convert.LoadManifest(manifestPath); err != nil {
					return err
				}
			}
			if outDir != "" {
				m.OutputDir = outDir
			}

			report, err := convert.New(m, log).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.String())
			if report.Failed() {
				return fmt.Errorf("one or more exports failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest path (defaults built in)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory override")
	return cmd
}

func configCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the label configuration without converting models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			labels := convert.DefaultLabelConfig(convert.DefaultManifest().Files)
			if outPath == "" {
				return labels.WriteTo(filepath.Join(".", "config.json"))
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			return labels.WriteTo(outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "destination path (default ./config.json)")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kiln %s\n", version)
		},
	}
}
