package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/app"
	"event-portal/portal-backend/internal/certificates"
	"event-portal/portal-backend/internal/config"
)

type renderOptions struct {
	templatePath string
	basePath     string
	dataPath     string
	outputPath   string
	compress     bool
	strayWord    string
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a certificate from a template configuration and recipient data",
		Long: `Render a single certificate without a database.

The template file holds the element configuration JSON, the base file is the
single-page PDF the text is drawn on and the data file holds the recipient
values placeholders resolve against.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.templatePath, "template", "t", "", "template configuration JSON file")
	cmd.Flags().StringVarP(&opts.basePath, "base", "b", "", "base page PDF")
	cmd.Flags().StringVarP(&opts.dataPath, "data", "d", "", "recipient data JSON file")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "certificate.pdf", "output PDF path")
	cmd.Flags().BoolVar(&opts.compress, "compress", true, "compress page content streams")
	cmd.Flags().StringVar(&opts.strayWord, "stray-word", certificates.DefaultStrayWord, "word removed from institution names")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("base")

	return cmd
}

func runRender(rootOpts *RootOptions, opts *renderOptions, cmd *cobra.Command) error {
	configuration, err := os.ReadFile(opts.templatePath)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	desc, err := certificates.ParseDescriptor(0, configuration)
	if err != nil {
		return err
	}
	desc.BasePagePath = filepath.Base(opts.basePath)

	var data certificates.RecipientData
	if opts.dataPath != "" {
		raw, err := os.ReadFile(opts.dataPath)
		if err != nil {
			return fmt.Errorf("read recipient data: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse recipient data: %w", err)
		}
	}

	logger := zap.NewNop()
	if rootOpts.Verbose {
		logger, _ = zap.NewDevelopment()
	}

	compositor := app.NewCompositor(config.CertificatesConfig{
		TemplateRoot:    filepath.Dir(opts.basePath),
		StrayWord:       opts.strayWord,
		IssueDateLayout: certificates.DefaultIssueDateLayout,
		Compress:        opts.compress,
	}, logger, nil)

	r, err := compositor.Render(desc, data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outputPath, r.PDF, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %d runs, %d warnings)\n",
		opts.outputPath, len(r.PDF), len(r.Runs), len(r.Warnings))
	return nil
}
