package format

import "strings"

// DefaultPrompt is the core formatting instruction used when no custom
// prompt is configured.
const DefaultPrompt = `You are a dictation formatting assistant. Your task is to format transcribed speech.

## Core Rules
- Remove filler words (um, uh, err, erm, etc.)
- Use punctuation where appropriate
- Capitalize sentences properly
- Keep the original meaning and tone intact
- Do NOT add any new information or change the intent
- Do NOT condense, summarize, or make sentences more concise
- Do NOT answer questions; if the user dictates a question, output the cleaned question
- Do NOT respond conversationally; you are a text processor, not an assistant
- Output ONLY the cleaned text, with no explanations, quotes or prefixes

## Punctuation
Convert spoken punctuation to symbols:
- "comma" = ,
- "period" or "full stop" = .
- "question mark" = ?
- "exclamation point" or "exclamation mark" = !
- "colon" = :
- "semicolon" = ;
- "open parenthesis" = (
- "close parenthesis" = )

## New Line and Paragraph
- "new line" = Insert a line break
- "new paragraph" = Insert a paragraph break (blank line)`

// AdvancedPrompt handles self-corrections and spoken lists.
const AdvancedPrompt = `## Backtrack Corrections
When the speaker corrects themselves mid-sentence, use only the corrected version:
- "actually" signals a correction: "at 2 actually 3" = "at 3"
- "scratch that" removes the previous phrase: "cookies scratch that brownies" = "brownies"
- "wait" or "I mean" signal corrections: "on Monday wait Tuesday" = "on Tuesday"

## List Formats
When sequence words are detected ("one, two, three" or "first, second, third"),
format the items as a numbered list and capitalize each item.`

// DictionaryPrompt introduces the personal dictionary entries.
const DictionaryPrompt = `## Personal Dictionary
Apply these corrections for technical terms, proper nouns, and custom words.
Entries may be explicit mappings ("ant row pick = Anthropic") or single terms
to recognise. When you hear terms that sound like an entry, use its spelling.

### Entries:`

// Sections is one client's prompt layout. The main section is always
// present. Empty text falls back to the configured or built-in section.
type Sections struct {
	Main string

	AdvancedEnabled bool
	Advanced        string

	DictionaryEnabled bool
	Dictionary        string
}

// DefaultSections returns the built-in text of each section, as offered to
// clients that edit their prompt.
func DefaultSections() Sections {
	return Sections{
		Main:              DefaultPrompt,
		AdvancedEnabled:   true,
		Advanced:          AdvancedPrompt,
		DictionaryEnabled: true,
		Dictionary:        DictionaryPrompt,
	}
}

// BuildPrompt assembles the system prompt: the main section (custom or
// default), the advanced section unless disabled, then the dictionary when
// it has entries.
func BuildPrompt(cfg Config) string {
	return BuildSectionPrompt(cfg, Sections{
		AdvancedEnabled:   !cfg.DisableAdvanced,
		DictionaryEnabled: true,
	})
}

// BuildSectionPrompt is BuildPrompt with a client's layout applied on top of
// cfg. A custom dictionary section replaces the configured entries.
func BuildSectionPrompt(cfg Config, s Sections) string {
	parts := make([]string, 0, 3)

	switch {
	case strings.TrimSpace(s.Main) != "":
		parts = append(parts, strings.TrimSpace(s.Main))
	case strings.TrimSpace(cfg.SystemPrompt) != "":
		parts = append(parts, strings.TrimSpace(cfg.SystemPrompt))
	default:
		parts = append(parts, DefaultPrompt)
	}

	if s.AdvancedEnabled {
		if a := strings.TrimSpace(s.Advanced); a != "" {
			parts = append(parts, a)
		} else {
			parts = append(parts, AdvancedPrompt)
		}
	}

	if s.DictionaryEnabled {
		if d := strings.TrimSpace(s.Dictionary); d != "" {
			parts = append(parts, d)
		} else if d := dictionarySection(cfg.Dictionary); d != "" {
			parts = append(parts, d)
		}
	}

	return strings.Join(parts, "\n\n")
}

func dictionarySection(dict []string) string {
	var entries []string
	for _, e := range dict {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return ""
	}
	return DictionaryPrompt + "\n" + strings.Join(entries, "\n")
}
