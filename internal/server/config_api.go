package server

import (
	"net/http"

	"github.com/MrWong99/dictaphone/internal/control"
	"github.com/MrWong99/dictaphone/internal/format"
)

// ProviderLister reports the backends clients may switch to. *app.Providers
// implements it.
type ProviderLister interface {
	AvailableSTT() []control.ProviderInfo
	AvailableLLM() []control.ProviderInfo
}

type defaultSections struct {
	Main       string `json:"main"`
	Advanced   string `json:"advanced"`
	Dictionary string `json:"dictionary"`
}

type providerList struct {
	STT []control.ProviderInfo `json:"stt"`
	LLM []control.ProviderInfo `json:"llm"`
}

func (s *Server) registerConfig(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prompt/sections/default", s.defaultPromptSections)
	mux.HandleFunc("GET /api/providers", s.listProviders)
}

// defaultPromptSections lets clients show the built-in text next to their
// own before sending set-prompt-sections.
func (s *Server) defaultPromptSections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, defaultSections{
		Main:       format.DefaultPrompt,
		Advanced:   format.AdvancedPrompt,
		Dictionary: format.DictionaryPrompt,
	})
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	list := providerList{STT: []control.ProviderInfo{}, LLM: []control.ProviderInfo{}}
	if s.cfg.Providers != nil {
		if p := s.cfg.Providers.AvailableSTT(); p != nil {
			list.STT = p
		}
		if p := s.cfg.Providers.AvailableLLM(); p != nil {
			list.LLM = p
		}
	}
	writeJSON(w, http.StatusOK, list)
}
