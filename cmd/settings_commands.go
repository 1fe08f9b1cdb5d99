package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/bookbot/llm"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change provider settings",
	}
	settingsCmd.AddCommand(newSettingsShowCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	settingsCmd.AddCommand(newSettingsResetCommand(ctx))
	return settingsCmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				printSettings(cmd, st.Settings(cmd.Context()))
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var provider, model, key, language, persona string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the provider, model, credentials or defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			changed := false
			for _, name := range []string{"provider", "model", "key", "language", "persona"} {
				changed = changed || flags.Changed(name)
			}
			if !changed {
				return errors.New("nothing to change; see --help")
			}
			return ctx.withStore(func(st *store.Store) error {
				s := st.Settings(cmd.Context())
				if flags.Changed("provider") {
					p := llm.Provider(strings.ToLower(provider))
					if !llm.KnownProvider(p) {
						return fmt.Errorf("unknown provider %q", provider)
					}
					if string(p) != s.SelectedProvider && !flags.Changed("model") {
						s.SelectedModel = llm.DefaultModel(p)
					}
					s.SelectedProvider = string(p)
				}
				if flags.Changed("model") {
					if !llm.ValidModel(llm.Provider(s.SelectedProvider), model) {
						return fmt.Errorf("model %q is not offered by %s", model, s.SelectedProvider)
					}
					s.SelectedModel = model
				}
				if flags.Changed("key") {
					if s.APIKeys == nil {
						s.APIKeys = map[string]string{}
					}
					s.APIKeys[s.SelectedProvider] = strings.TrimSpace(key)
				}
				if flags.Changed("language") {
					s.DefaultLanguage = language
				}
				if flags.Changed("persona") {
					s.DefaultPersona = bookbot.Persona(strings.ToLower(persona))
				}
				if err := st.SaveSettings(cmd.Context(), s); err != nil {
					return err
				}
				printSettings(cmd, st.Settings(cmd.Context()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider id, see `bookbot providers`")
	cmd.Flags().StringVar(&model, "model", "", "Model id of the selected provider")
	cmd.Flags().StringVar(&key, "key", "", "API key for the selected provider; empty removes it")
	cmd.Flags().StringVar(&language, "language", "", "Default book language")
	cmd.Flags().StringVar(&persona, "persona", "", "Default persona: formal or informal")
	return cmd
}

func newSettingsResetCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if all {
					if err := st.ClearAll(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "All books, bookmarks and settings removed")
					return nil
				}
				if err := st.SaveSettings(cmd.Context(), bookbot.DefaultSettings()); err != nil {
					return err
				}
				printSettings(cmd, st.Settings(cmd.Context()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also delete every book and bookmark")
	return cmd
}

func printSettings(cmd *cobra.Command, s bookbot.APISettings) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider:  %s (%s)\n", llm.ProviderName(llm.Provider(s.SelectedProvider)), s.SelectedProvider)
	fmt.Fprintf(out, "Model:     %s\n", s.SelectedModel)
	fmt.Fprintf(out, "Language:  %s\n", s.DefaultLanguage)
	fmt.Fprintf(out, "Persona:   %s\n", s.DefaultPersona)

	providers := make([]string, 0, len(s.APIKeys))
	for p := range s.APIKeys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	rows := make([][]string, 0, len(providers))
	for _, p := range providers {
		rows = append(rows, []string{p, maskKey(s.APIKeys[p])})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "Keys:      none")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Provider", "Key"}, rows, nil))
}

func maskKey(k string) string {
	if len(k) > 8 {
		return "****" + k[len(k)-4:]
	}
	return "****"
}

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "providers",
		Short:       "List supported providers and models",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for _, p := range llm.Providers() {
				for _, m := range llm.Models(p) {
					rows = append(rows, []string{string(p), m.ID, m.Name, yesNo(m.Thinking)})
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Provider", "Model", "Name", "Thinking"}, rows, nil))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
