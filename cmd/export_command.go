package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/bookbot/bookcompiler"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var formats []string
	var outDir, fromDir string
	var modules bool

	cmd := &cobra.Command{
		Use:   "export [book]",
		Short: "Render a finished book as PDF, Markdown or HTML",
		Long: "Render a finished book. With --from-dir the book is read from a module\n" +
			"directory written by --modules or `generate --out` instead of the store.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (fromDir == "") == (len(args) == 0) {
				return errors.New("pass either a book id or --from-dir")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Export.Dir
			}

			var p *bookbot.BookProject
			if fromDir != "" {
				if p, err = bookcompiler.LoadDirectory(fromDir, ctx.now()); err != nil {
					return err
				}
			} else {
				err = ctx.withStore(func(st *store.Store) error {
					p, err = ctx.findBook(cmd.Context(), st, args[0])
					return err
				})
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			compiler := ctx.compiler()
			for _, format := range formats {
				path, err := compiler.Export(cmd.Context(), p, strings.ToLower(strings.TrimSpace(format)), outDir)
				if err != nil {
					return fmt.Errorf("export %s: %w", format, err)
				}
				fmt.Fprintln(out, path)
			}
			if modules {
				dir := bookcompiler.FileName(p.Title, ctx.now(), "")
				target := filepath.Join(outDir, dir)
				if err := bookbot.SaveToFiles(p, target); err != nil {
					return err
				}
				fmt.Fprintln(out, target)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&formats, "format", "f", []string{"pdf"}, "Formats to write: pdf, md, html")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to export.dir)")
	cmd.Flags().StringVar(&fromDir, "from-dir", "", "Read the book from a module directory")
	cmd.Flags().BoolVar(&modules, "modules", false, "Also write one directory per module")
	return cmd
}
