package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bookbot "github.com/opd-ai/bookbot/src"
)

// BackupVersion is the envelope version written by Export.
const BackupVersion = 2

var (
	// ErrUnsupportedBackup is returned for envelopes newer than BackupVersion.
	ErrUnsupportedBackup = errors.New("unsupported backup version")
	// ErrInvalidBackup is returned for envelopes that fail to decode or validate.
	ErrInvalidBackup = errors.New("invalid backup")
)

// ImportMode selects how an imported backup combines with stored data.
type ImportMode string

const (
	// ImportMerge adds books with new ids and fills missing settings.
	ImportMerge ImportMode = "merge"
	// ImportReplace discards stored books and settings first.
	ImportReplace ImportMode = "replace"
)

// Backup is the export envelope.
type Backup struct {
	Version    int                   `json:"version"`
	ExportDate time.Time             `json:"exportDate"`
	Books      []bookbot.BookProject `json:"books" validate:"dive"`
	Settings   bookbot.APISettings   `json:"settings"`
}

// ImportReport summarizes what an import changed.
type ImportReport struct {
	Mode            ImportMode `json:"mode"`
	FromVersion     int        `json:"fromVersion"`
	Added           int        `json:"added"`
	Collisions      []string   `json:"collisions,omitempty"`
	SettingsChanged []string   `json:"settingsChanged,omitempty"`
}

// settingsV1 is the settings shape of version 1 envelopes, one field per
// provider key.
type settingsV1 struct {
	AnthropicAPIKey  string          `json:"anthropicApiKey"`
	OpenAIAPIKey     string          `json:"openaiApiKey"`
	OpenRouterAPIKey string          `json:"openrouterApiKey"`
	MistralAPIKey    string          `json:"mistralApiKey"`
	GroqAPIKey       string          `json:"groqApiKey"`
	GoogleAPIKey     string          `json:"googleApiKey"`
	SelectedProvider string          `json:"selectedProvider"`
	SelectedModel    string          `json:"selectedModel"`
	DefaultLanguage  string          `json:"defaultLanguage"`
	DefaultPersona   bookbot.Persona `json:"defaultPersona"`
}

func (v settingsV1) migrate() bookbot.APISettings {
	keys := map[string]string{
		"anthropic":  v.AnthropicAPIKey,
		"openai":     v.OpenAIAPIKey,
		"openrouter": v.OpenRouterAPIKey,
		"mistral":    v.MistralAPIKey,
		"groq":       v.GroqAPIKey,
		"google":     v.GoogleAPIKey,
	}
	return bookbot.APISettings{
		APIKeys:          keys,
		SelectedProvider: v.SelectedProvider,
		SelectedModel:    v.SelectedModel,
		DefaultLanguage:  v.DefaultLanguage,
		DefaultPersona:   v.DefaultPersona,
	}
}

type rawBackup struct {
	Version    int                   `json:"version"`
	ExportDate time.Time             `json:"exportDate"`
	Books      []bookbot.BookProject `json:"books"`
	Settings   json.RawMessage       `json:"settings"`
}

// DecodeBackup parses an envelope of any supported version and migrates it
// to the current one.
func DecodeBackup(data []byte) (*Backup, int, error) {
	var raw rawBackup
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if raw.Version > BackupVersion {
		return nil, raw.Version, fmt.Errorf("%w: %d (newest is %d)", ErrUnsupportedBackup, raw.Version, BackupVersion)
	}
	b := &Backup{
		Version:    BackupVersion,
		ExportDate: raw.ExportDate,
		Books:      raw.Books,
	}
	if b.Books == nil {
		b.Books = []bookbot.BookProject{}
	}
	if len(raw.Settings) > 0 && string(raw.Settings) != "null" {
		switch raw.Version {
		case 0, 1:
			var v1 settingsV1
			if err := json.Unmarshal(raw.Settings, &v1); err != nil {
				return nil, raw.Version, fmt.Errorf("%w: settings: %v", ErrInvalidBackup, err)
			}
			b.Settings = v1.migrate()
		default:
			if err := json.Unmarshal(raw.Settings, &b.Settings); err != nil {
				return nil, raw.Version, fmt.Errorf("%w: settings: %v", ErrInvalidBackup, err)
			}
		}
	}
	if err := bookbot.Validator().Struct(b); err != nil {
		return nil, raw.Version, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return b, raw.Version, nil
}

// Export builds a backup of one partition and the settings.
func (s *Store) Export(ctx context.Context, userID string) Backup {
	return Backup{
		Version:    BackupVersion,
		ExportDate: s.now().UTC(),
		Books:      s.Books(ctx, userID),
		Settings:   s.Settings(ctx),
	}
}

// Import restores an encoded backup into a partition.
func (s *Store) Import(ctx context.Context, userID string, data []byte, mode ImportMode) (ImportReport, error) {
	report := ImportReport{Mode: mode}
	b, version, err := DecodeBackup(data)
	report.FromVersion = version
	if err != nil {
		return report, err
	}
	for i := range b.Books {
		b.Books[i].UserID = userID
	}

	switch mode {
	case ImportReplace:
		report.Added = len(b.Books)
		settings := bookbot.DefaultSettings()
		mergeSettings(&settings, b.Settings, true)
		if err := s.SaveSettings(ctx, settings); err != nil {
			return report, err
		}
		return report, s.SaveBooks(ctx, userID, b.Books)

	case ImportMerge, "":
		report.Mode = ImportMerge
		settings, err := s.loadSettings(ctx)
		if err != nil {
			return report, err
		}
		report.Added, report.Collisions, err = s.mergeBooks(ctx, userID, b.Books)
		if err != nil {
			return report, err
		}
		report.SettingsChanged = mergeSettings(&settings, b.Settings, false)
		return report, s.SaveSettings(ctx, settings)

	default:
		return report, fmt.Errorf("unknown import mode %q", mode)
	}
}

// mergeSettings copies non-empty fields of in onto dst. Without overwrite,
// fields already set in dst are kept and listed when in differs.
func mergeSettings(dst *bookbot.APISettings, in bookbot.APISettings, overwrite bool) []string {
	var differing []string
	set := func(name string, cur *string, v string) {
		if v == "" {
			return
		}
		if *cur == "" || overwrite {
			*cur = v
			return
		}
		if *cur != v {
			differing = append(differing, name)
		}
	}
	if dst.APIKeys == nil {
		dst.APIKeys = map[string]string{}
	}
	providers := make([]string, 0, len(in.APIKeys))
	for p := range in.APIKeys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		cur := dst.APIKeys[p]
		set("apiKeys."+p, &cur, in.APIKeys[p])
		if cur != "" {
			dst.APIKeys[p] = cur
		}
	}
	set("selectedProvider", &dst.SelectedProvider, in.SelectedProvider)
	set("selectedModel", &dst.SelectedModel, in.SelectedModel)
	set("defaultLanguage", &dst.DefaultLanguage, in.DefaultLanguage)
	persona := string(dst.DefaultPersona)
	set("defaultPersona", &persona, string(in.DefaultPersona))
	dst.DefaultPersona = bookbot.Persona(persona)
	return differing
}
