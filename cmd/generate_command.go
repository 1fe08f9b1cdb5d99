package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opd-ai/bookbot/generator"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var session bookbot.BookSession
	var complexity, persona string
	var outDir string

	cmd := &cobra.Command{
		Use:   "generate <goal>",
		Short: "Plan and write a new book",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session.Goal = strings.Join(args, " ")
			session.Complexity = bookbot.Complexity(strings.ToLower(complexity))
			session.Persona = bookbot.Persona(strings.ToLower(persona))
			return ctx.withStore(func(st *store.Store) error {
				st.Settings(cmd.Context()).ApplyDefaults(&session)
				if err := session.Validate(); err != nil {
					return err
				}
				p := bookbot.NewProject(uuid.NewString(), ctx.userID(), session, ctx.now())
				if err := st.SaveBook(cmd.Context(), p); err != nil && !errors.Is(err, store.ErrDegraded) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %s created\n", p.ID)
				return runGeneration(cmd, ctx, st, p, outDir)
			})
		},
	}

	cmd.Flags().StringVarP(&session.Language, "language", "l", "", "Language to write in (defaults to the settings)")
	cmd.Flags().StringVarP(&session.Audience, "audience", "a", "", "Intended readers")
	cmd.Flags().StringVar(&complexity, "complexity", "", "beginner, intermediate or advanced")
	cmd.Flags().StringVarP(&persona, "persona", "p", "", "formal or informal (defaults to the settings)")
	cmd.Flags().StringVar(&session.Reasoning, "reasoning", "", "Why the reader wants to learn this")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Also write the finished modules into this directory")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "resume <book>",
		Short: "Continue a paused or failed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				p, err := ctx.findBook(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if p.Status == bookbot.StatusCompleted {
					fmt.Fprintf(cmd.OutOrStdout(), "Book %s is already complete\n", p.ID)
					return nil
				}
				return runGeneration(cmd, ctx, st, p, outDir)
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Also write the finished modules into this directory")
	return cmd
}

// runGeneration drives p in the foreground. An interrupt pauses the book.
func runGeneration(cmd *cobra.Command, ctx *commandContext, st *store.Store, p *bookbot.BookProject, outDir string) error {
	out := cmd.OutOrStdout()
	gen := ctx.orchestrator(st, generator.WithProgressor(printProgress(out)))

	err := gen.Run(cmd.Context(), p)
	switch {
	case errors.Is(err, generator.ErrCancelled):
		fmt.Fprintf(out, "Paused at %.0f%%; continue with `bookbot resume %s`\n", p.Progress(), p.ID)
		return context.Canceled
	case err != nil:
		return err
	case p.Status == bookbot.StatusError:
		return fmt.Errorf("generation failed: %s", p.Error)
	}

	if outDir != "" {
		if err := bookbot.SaveToFiles(p, outDir); err != nil {
			return err
		}
		fmt.Fprintf(out, "Modules written to %s\n", outDir)
	}
	fmt.Fprintf(out, "%s: %s (%d words)\n", p.Title, statusLabel(p), p.WordCount())
	return nil
}

func printProgress(w io.Writer) generator.Progressor {
	return generator.ProgressorFunc(func(ev generator.Event) {
		prefix := ""
		switch ev.Level {
		case generator.LevelWarning:
			prefix = "warning: "
		case generator.LevelError:
			prefix = "error: "
		}
		fmt.Fprintf(w, "[%3.0f%%] %s%s\n", ev.Percent, prefix, ev.Message)
	})
}
