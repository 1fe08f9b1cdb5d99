package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/generator"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List books",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				books := st.Books(cmd.Context(), ctx.userID())
				if len(books) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No books yet")
					return nil
				}
				now := ctx.now()
				rows := make([][]string, 0, len(books))
				for i := range books {
					p := &books[i]
					rows = append(rows, []string{
						shortID(p.ID),
						p.Title,
						statusLabel(p),
						fmt.Sprintf("%.0f%%", p.Progress()),
						humanize.Comma(int64(p.WordCount())),
						humanize.RelTime(p.UpdatedAt, now, "ago", "from now"),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Words", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var outline bool
	cmd := &cobra.Command{
		Use:   "show <book>",
		Short: "Show a book's roadmap and module states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				p, err := ctx.findBook(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n", p.Title)
				fmt.Fprintf(out, "  ID:        %s\n", p.ID)
				fmt.Fprintf(out, "  Goal:      %s\n", p.Session.Goal)
				fmt.Fprintf(out, "  Status:    %s\n", statusLabel(p))
				fmt.Fprintf(out, "  Progress:  %.0f%%\n", p.Progress())
				fmt.Fprintf(out, "  Words:     %s\n", humanize.Comma(int64(p.WordCount())))
				if p.Provider != "" {
					fmt.Fprintf(out, "  Model:     %s / %s\n", p.Provider, p.Model)
				}
				fmt.Fprintf(out, "  Created:   %s\n", humanize.Time(p.CreatedAt))
				if p.Error != "" {
					fmt.Fprintf(out, "  Error:     %s\n", p.Error)
				}
				if b, ok := st.Bookmark(cmd.Context(), p.ID); ok {
					fmt.Fprintf(out, "  Bookmark:  module %d, %.0f%% (%s)\n", b.ModuleIndex+1, b.Percent, humanize.Time(b.LastRead))
				}
				if len(p.Modules) == 0 {
					return nil
				}

				rows := make([][]string, 0, len(p.Modules))
				for i, m := range p.Modules {
					note := m.Error
					if outline && m.Status == bookbot.ModuleCompleted {
						var heads []string
						for _, h := range bookcompiler.Headings(m.Content) {
							if h.Level == 2 {
								heads = append(heads, h.Title)
							}
						}
						note = strings.Join(heads, "; ")
					}
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						m.Title,
						string(m.Status),
						humanize.Comma(int64(m.WordCount)),
						note,
					})
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, renderTable(
					[]string{"#", "Module", "Status", "Words", "Notes"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&outline, "outline", false, "List the section headings of finished modules")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <book>",
		Aliases: []string{"rm"},
		Short:   "Delete a book and its bookmark",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				p, err := ctx.findBook(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if err := st.DeleteBook(cmd.Context(), ctx.userID(), p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", p.Title, p.ID)
				return nil
			})
		},
	}
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var module int
	var roadmap bool
	cmd := &cobra.Command{
		Use:   "regenerate <book>",
		Short: "Write one module again, or start over from a new roadmap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if roadmap == (module > 0) {
				return errors.New("pass exactly one of --module or --roadmap")
			}
			return ctx.withStore(func(st *store.Store) error {
				p, err := ctx.findBook(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				gen := ctx.orchestrator(st, generator.WithProgressor(printProgress(out)))
				if roadmap {
					err = gen.RegenerateRoadmap(cmd.Context(), p)
				} else {
					err = gen.RegenerateModule(cmd.Context(), p, module-1)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s (%d words)\n", p.Title, statusLabel(p), p.WordCount())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&module, "module", "m", 0, "One-based module number to regenerate")
	cmd.Flags().BoolVar(&roadmap, "roadmap", false, "Discard everything and plan the book again")
	return cmd
}

func statusLabel(p *bookbot.BookProject) string {
	label := strings.ReplaceAll(string(p.Status), "_", " ")
	if p.Paused {
		label += " (paused)"
	}
	if gaps := p.Gaps(); len(gaps) > 0 && p.Status == bookbot.StatusCompletedWithGaps {
		label += fmt.Sprintf(" (%d missing)", len(gaps))
	}
	return label
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
