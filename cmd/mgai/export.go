package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func exportCmd(configPath *string) *cobra.Command {
	var documentID, format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a document to pdf, docx or md",
		Long: `Render a generated document with the same pipeline the API uses.

Examples:
  mgai export --document 6f1c... --format pdf --out brand-strategy.pdf
  mgai export --document 6f1c... --format md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), *configPath, documentID, format, out)
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "document id")
	cmd.Flags().StringVarP(&format, "format", "f", "pdf", "output format (pdf, docx, md)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to the generated filename)")
	_ = cmd.MarkFlagRequired("document")

	return cmd
}

func runExport(ctx context.Context, configPath, documentID, format, out string) error {
	b, err := bootstrap(configPath, (*config.Config).ValidateStore)
	if err != nil {
		return err
	}
	defer b.logger.Sync()

	// The CLI runs as a trusted operator and may read any user's document.
	svc := service.NewExportService(b.supabase, b.supabase, nil, 0, b.metrics, b.logger)
	file, err := svc.Export(ctx, domain.Identity{Role: domain.ServiceRole}, documentID, format)
	if err != nil {
		return fmt.Errorf("export %s: %w", documentID, err)
	}

	if out == "" {
		out = file.Filename
	}
	if err := os.WriteFile(filepath.Clean(out), file.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	b.logger.Info("document exported",
		zap.String("document_id", documentID),
		zap.String("path", out),
		zap.Int("bytes", len(file.Data)),
	)
	fmt.Println(out)
	return nil
}
