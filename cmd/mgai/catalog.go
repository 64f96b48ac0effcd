package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/spf13/cobra"
)

func catalogCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the document-type catalog",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List document types in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogList(cmd.Context(), *configPath, asJSON, os.Stdout)
		},
	}
	list.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	cmd.AddCommand(list)
	return cmd
}

func runCatalogList(ctx context.Context, configPath string, asJSON bool, w io.Writer) error {
	b, err := bootstrap(configPath, (*config.Config).ValidateStore)
	if err != nil {
		return err
	}
	defer b.logger.Sync()

	types, err := b.catalog.ListDocumentTypes(ctx)
	if err != nil {
		return fmt.Errorf("list document types: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(types)
	}
	return printCatalog(w, types)
}

func printCatalog(w io.Writer, types []domain.DocumentType) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTIER\tSECTIONS")
	for _, dt := range types {
		tier := "paid"
		if dt.IsFree {
			tier = "free"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", dt.ID, dt.Name, tier, len(dt.EffectiveSections()))
	}
	return tw.Flush()
}
