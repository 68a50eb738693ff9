package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
)

// maxTranscriptRunes is how much transcript is sent with the prompt
const maxTranscriptRunes = 30000

const fallbackPrompt = `Sei un esperto copywriter per YouTube.

Analizza la trascrizione del video e genera una descrizione completa usando questo formato:

### Descrizione
[150-200 parole che riassumono il contenuto del video in modo coinvolgente]

### Capitoli
[Se la durata lo permette, genera capitoli con timestamp nel formato:
00:00 — Introduzione
MM:SS — [Titolo capitolo descrittivo]
...]

### 🗂️ ARGOMENTI TRATTATI
[Lista degli argomenti principali discussi nel video, uno per riga, con formato:
• [Nome Argomento]: [breve descrizione]
Questi diventeranno categorie, quindi usa termini chiari e cercabili]

### 👤 OSPITI
[Se ci sono ospiti/relatori nel video, elenca i loro nomi:
• Nome Cognome — Ruolo/Professione
Se non ci sono ospiti, scrivi: Nessun ospite]

### Hashtag
[20-25 hashtag rilevanti su una riga, separati da spazi]

Scrivi in italiano. Tono professionale ma accessibile.`

var (
	hashtagPattern = regexp.MustCompile(`#([A-Za-z0-9À-ÿ_]+)`)

	topicsHeader   = regexp.MustCompile(`🗂\x{FE0F}?\s*ARGOMENTI\s*TRATTATI?\s*$`)
	speakersHeader = regexp.MustCompile(`👤\s*OSPITI?\s*$`)

	bulletPrefix   = regexp.MustCompile(`^[\-•\*]\s*`)
	topicLabel     = regexp.MustCompile(`^([^:]+):`)
	speakerRole    = regexp.MustCompile(`\s*[\-–—:]\s*.*$`)
	noGuestPattern = regexp.MustCompile(`(?i)nessun|niente|none|n/a|---`)

	titleSpeakerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bcon\s+([A-Z][a-zàèéìòù]+(?:\s+[A-Z][a-zàèéìòù]+)+)`),
		regexp.MustCompile(`\b(?i:intervista\s+(?:a|con))\s+([A-Z][a-zàèéìòù]+(?:\s+[A-Z][a-zàèéìòù]+)+)`),
		regexp.MustCompile(`\b(?i:ospite)[:\s]+([A-Z][a-zàèéìòù]+(?:\s+[A-Z][a-zàèéìòù]+)+)`),
	}

	allDigits       = regexp.MustCompile(`^\d+$`)
	urlLike         = regexp.MustCompile(`(?i)https?:|www\.`)
	emojiRange      = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}]`)
	hasLetter       = regexp.MustCompile(`[a-zA-ZÀ-ÿ]`)
	capitalizedName = regexp.MustCompile(`^[A-ZÀ-Ý][a-zà-ÿ]`)
	upperCaseName   = regexp.MustCompile(`^[A-ZÀ-Ý\s]+$`)
	twoWordName     = regexp.MustCompile(`(?i)^[a-zà-ÿ]+\s+[a-zà-ÿ]+`)
)

// Section boundaries: a line starting with one of these ends the section
const (
	topicsStop   = "👤🏛📊🤝💬🔧🏷"
	speakersStop = "🏛📊🤝💬🔧🏷🗂"
)

// DescriptionGenerator produces an AI description for a transcript
type DescriptionGenerator interface {
	GenerateDescription(ctx context.Context, transcript, title, prompt string) (string, error)
}

// EditorialStore persists the editorial output of a record
type EditorialStore interface {
	SaveEditorial(ctx context.Context, videoID, description string, hashtags, speakers, topics []string) error
}

// Editorial is the generated description and the taxonomy extracted from it
type Editorial struct {
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Speakers    []string `json:"speakers"`
	Topics      []string `json:"topics"`
}

// EditorialService builds the prompt, asks the vendor for a description,
// extracts hashtags, speakers and topics, and saves the result
type EditorialService struct {
	generator    DescriptionGenerator
	store        EditorialStore
	goldenPrompt string
}

// NewEditorialService creates a new editorial service. An empty goldenPrompt
// selects the built-in prompt.
func NewEditorialService(generator DescriptionGenerator, store EditorialStore, goldenPrompt string) *EditorialService {
	return &EditorialService{
		generator:    generator,
		store:        store,
		goldenPrompt: strings.TrimSpace(goldenPrompt),
	}
}

// Generate produces and persists the editorial content of a record
func (s *EditorialService) Generate(ctx context.Context, rec *models.VideoRecord, transcript string) (*Editorial, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("transcript missing")
	}
	logger := logging.FromContext(ctx).WithField("videoId", rec.VideoID)

	prompt := s.BuildPrompt(rec.Title, transcript, rec.DurationFormatted, rec.DurationSeconds)
	description, err := s.generator.GenerateDescription(ctx, transcript, rec.Title, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "generate description")
	}

	ed := &Editorial{
		Description: description,
		Hashtags:    ExtractHashtags(description),
		Speakers:    ExtractSpeakers(description, rec.Title, transcript),
		Topics:      ExtractTopics(description),
	}

	if err := s.store.SaveEditorial(ctx, rec.VideoID, ed.Description, ed.Hashtags, ed.Speakers, ed.Topics); err != nil {
		return nil, errors.Wrap(err, "save editorial")
	}

	logger.WithFields(map[string]interface{}{
		"length":   len(description),
		"hashtags": len(ed.Hashtags),
		"speakers": ed.Speakers,
		"topics":   ed.Topics,
	}).Info("Description generated")
	return ed, nil
}

// BuildPrompt appends the video context to the golden (or fallback) prompt
func (s *EditorialService) BuildPrompt(title, transcript, durationFormatted string, durationSeconds int) string {
	prompt := s.goldenPrompt
	if prompt == "" {
		prompt = fallbackPrompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n---\n\n")
	fmt.Fprintf(&b, "TITOLO VIDEO: %s\n\n", title)
	if durationFormatted != "" {
		fmt.Fprintf(&b, "DURATA VIDEO: %s (%d secondi)\n\n", durationFormatted, durationSeconds)
	}
	b.WriteString("TRASCRIZIONE:\n")
	b.WriteString(truncateRunes(transcript, maxTranscriptRunes))
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ExtractHashtags returns the distinct hashtags of a description, in order
func ExtractHashtags(description string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range hashtagPattern.FindAllStringSubmatch(description, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// section returns the lines following the header line, up to a line starting
// with one of the stop emoji or containing "###".
func section(description string, header *regexp.Regexp, stop string) []string {
	lines := strings.Split(description, "\n")
	for i, line := range lines {
		if !header.MatchString(line) {
			continue
		}
		var out []string
		for _, next := range lines[i+1:] {
			if strings.Contains(next, "###") || startsWithAny(next, stop) {
				break
			}
			out = append(out, next)
		}
		return out
	}
	return nil
}

func startsWithAny(line, chars string) bool {
	for _, r := range chars {
		if strings.HasPrefix(line, string(r)) {
			return true
		}
	}
	return false
}

// ExtractTopics reads "Topic: description" bullets from the topics section
func ExtractTopics(description string) []string {
	var topics []string
	for _, line := range section(description, topicsHeader, topicsStop) {
		line = bulletPrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" {
			continue
		}
		m := topicLabel.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		topic := strings.TrimSpace(m[1])
		if len(topic) > 3 && len(topic) < 100 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// ExtractSpeakers returns the guests listed in the description that also
// appear in the title or transcript. With none, it falls back to names
// introduced in the title ("con", "intervista a", "ospite") that the
// transcript mentions.
func ExtractSpeakers(description, title, transcript string) []string {
	var speakers []string
	titleLower := strings.ToLower(title)
	transcriptLower := strings.ToLower(transcript)

	for _, line := range section(description, speakersHeader, speakersStop) {
		line = strings.TrimSpace(line)
		if line == "" || noGuestPattern.MatchString(line) || strings.HasPrefix(line, "#") {
			continue
		}
		name := bulletPrefix.ReplaceAllString(line, "")
		name = strings.TrimSpace(speakerRole.ReplaceAllString(name, ""))
		if !IsValidSpeakerName(name) {
			continue
		}

		nameLower := strings.ToLower(name)
		inTitle := titleLower != "" && strings.Contains(titleLower, nameLower)
		inTranscript := transcriptLower != "" && strings.Contains(transcriptLower, nameLower)
		if inTitle || inTranscript {
			speakers = append(speakers, name)
		}
	}

	if len(speakers) == 0 && transcriptLower != "" {
		for _, pattern := range titleSpeakerPatterns {
			m := pattern.FindStringSubmatch(title)
			if m == nil {
				continue
			}
			name := strings.TrimSpace(m[1])
			if IsValidSpeakerName(name) && strings.Contains(transcriptLower, strings.ToLower(name)) {
				speakers = append(speakers, name)
			}
		}
	}

	return dedupe(speakers)
}

// IsValidSpeakerName rejects hashtags, numbers, URLs, emoji and strings that
// do not look like a person or organization name
func IsValidSpeakerName(name string) bool {
	if len(name) < 3 || len(name) > 60 {
		return false
	}
	if strings.Contains(name, "#") || allDigits.MatchString(name) || urlLike.MatchString(name) || emojiRange.MatchString(name) {
		return false
	}
	if !hasLetter.MatchString(name) {
		return false
	}
	if !capitalizedName.MatchString(name) && !upperCaseName.MatchString(name) {
		return twoWordName.MatchString(name)
	}
	return true
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
