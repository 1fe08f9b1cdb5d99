package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/bookbot/store"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import books and settings",
	}
	backupCmd.AddCommand(newBackupExportCommand(ctx))
	backupCmd.AddCommand(newBackupImportCommand(ctx))
	return backupCmd
}

func newBackupExportCommand(ctx *commandContext) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of the current user's books and the settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				backup := st.Export(cmd.Context(), ctx.userID())
				data, err := json.MarshalIndent(backup, "", "  ")
				if err != nil {
					return fmt.Errorf("encode backup: %w", err)
				}
				if target == "" || target == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(target, data, 0o600); err != nil {
					return fmt.Errorf("write backup: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Backed up %d books to %s\n", len(backup.Books), target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target, "out", "o", "", "File to write; stdout when empty")
	return cmd
}

func newBackupImportCommand(ctx *commandContext) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup, merging with or replacing what is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importMode := store.ImportMode(strings.ToLower(mode))
			if importMode != store.ImportMerge && importMode != store.ImportReplace {
				return fmt.Errorf("unknown import mode %q", mode)
			}
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			return ctx.withStore(func(st *store.Store) error {
				report, err := st.Import(cmd.Context(), ctx.userID(), data, importMode)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d books (backup version %d, %s)\n", report.Added, report.FromVersion, report.Mode)
				if len(report.Collisions) > 0 {
					fmt.Fprintf(out, "Kept existing: %s\n", strings.Join(report.Collisions, ", "))
				}
				if len(report.SettingsChanged) > 0 {
					fmt.Fprintf(out, "Settings left unchanged: %s\n", strings.Join(report.SettingsChanged, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(store.ImportMerge), "merge or replace")
	return cmd
}
