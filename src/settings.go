package bookbot

import (
	"strings"

	"github.com/opd-ai/bookbot/llm"
)

// DefaultSettings returns the settings used when nothing is stored.
func DefaultSettings() APISettings {
	provider := llm.DefaultProvider
	return APISettings{
		APIKeys:          map[string]string{},
		SelectedProvider: string(provider),
		SelectedModel:    llm.DefaultModel(provider),
		DefaultLanguage:  "English",
		DefaultPersona:   PersonaFormal,
	}
}

// Normalize coerces the settings into a valid combination.
// An unknown provider falls back to the default provider and a model outside
// the provider's list falls back to that provider's first model.
func (s *APISettings) Normalize() {
	defaults := DefaultSettings()
	if s.APIKeys == nil {
		s.APIKeys = map[string]string{}
	}
	for k, v := range s.APIKeys {
		if strings.TrimSpace(v) == "" {
			delete(s.APIKeys, k)
		}
	}
	provider := llm.Provider(strings.ToLower(strings.TrimSpace(s.SelectedProvider)))
	if !llm.KnownProvider(provider) {
		provider = llm.DefaultProvider
	}
	s.SelectedProvider = string(provider)
	if !llm.ValidModel(provider, s.SelectedModel) {
		s.SelectedModel = llm.DefaultModel(provider)
	}
	if strings.TrimSpace(s.DefaultLanguage) == "" {
		s.DefaultLanguage = defaults.DefaultLanguage
	}
	if s.DefaultPersona != PersonaFormal && s.DefaultPersona != PersonaInformal {
		s.DefaultPersona = defaults.DefaultPersona
	}
}

// APIKey returns the credential for the selected provider.
func (s APISettings) APIKey() string {
	return strings.TrimSpace(s.APIKeys[s.SelectedProvider])
}

// ApplyDefaults fills the language and persona a session leaves empty.
func (s APISettings) ApplyDefaults(session *BookSession) {
	if strings.TrimSpace(session.Language) == "" {
		session.Language = s.DefaultLanguage
	}
	if session.Persona == "" {
		session.Persona = s.DefaultPersona
	}
}
