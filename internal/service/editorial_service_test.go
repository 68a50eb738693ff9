package service

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/video-importer/internal/models"
)

const sampleDescription = `### Descrizione
Una conversazione sull'economia italiana. #economia #podcast

### 🗂️ ARGOMENTI TRATTATI
• Economia Italiana: crescita e debito
• Intelligenza Artificiale: impatto sul lavoro
• AI: troppo corto
- senza due punti

### 👤 OSPITI
• Mario Rossi — Economista
• Giulia Bianchi — Giornalista
• #hashtag — no
• Nessun altro ospite

### Hashtag
#economia #podcast #Italia #economia`

type fakeGenerator struct {
	description string
	err         error
	prompt      string
}

func (f *fakeGenerator) GenerateDescription(ctx context.Context, transcript, title, prompt string) (string, error) {
	f.prompt = prompt
	return f.description, f.err
}

type fakeEditorialStore struct {
	saved map[string]*Editorial
}

func (f *fakeEditorialStore) SaveEditorial(ctx context.Context, videoID, description string, hashtags, speakers, topics []string) error {
	if f.saved == nil {
		f.saved = make(map[string]*Editorial)
	}
	f.saved[videoID] = &Editorial{Description: description, Hashtags: hashtags, Speakers: speakers, Topics: topics}
	return nil
}

func TestExtractHashtags(t *testing.T) {
	assert.Equal(t, []string{"economia", "podcast", "hashtag", "Italia"}, ExtractHashtags(sampleDescription))
	assert.Nil(t, ExtractHashtags("nessun tag qui"))
	assert.Equal(t, []string{"perché", "città_2026"}, ExtractHashtags("#perché #città_2026"))
}

func TestExtractTopics(t *testing.T) {
	assert.Equal(t, []string{"Economia Italiana", "Intelligenza Artificiale"}, ExtractTopics(sampleDescription))
	assert.Nil(t, ExtractTopics("### Descrizione\nniente"))
}

func TestExtractSpeakers(t *testing.T) {
	transcript := "oggi con noi mario rossi, economista"

	speakers := ExtractSpeakers(sampleDescription, "Intervista", transcript)
	assert.Equal(t, []string{"Mario Rossi"}, speakers, "guests must appear in title or transcript")

	speakers = ExtractSpeakers(sampleDescription, "Con Giulia Bianchi", transcript)
	assert.Equal(t, []string{"Mario Rossi", "Giulia Bianchi"}, speakers)
}

func TestExtractSpeakers_TitleFallback(t *testing.T) {
	description := "### 👤 OSPITI\nNessun ospite\n### Hashtag"

	speakers := ExtractSpeakers(description, "Intervista a Mario Rossi sul debito", "parla Mario Rossi")
	assert.Equal(t, []string{"Mario Rossi"}, speakers)

	speakers = ExtractSpeakers(description, "Intervista a Mario Rossi sul debito", "nessun nome")
	assert.Empty(t, speakers)
}

func TestIsValidSpeakerName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Mario Rossi", true},
		{"NVIDIA", true},
		{"mario rossi", true},
		{"Al", false},
		{"12345", false},
		{"#economia", false},
		{"www.example.com", false},
		{"Mario 🎙", false},
		{"---", false},
		{"x-y", false},
		{strings.Repeat("A", 61), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidSpeakerName(tt.name))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	svc := NewEditorialService(nil, nil, "")
	prompt := svc.BuildPrompt("Titolo", strings.Repeat("é", 30010), "15:30", 930)

	assert.True(t, strings.HasPrefix(prompt, "Sei un esperto copywriter"))
	assert.Contains(t, prompt, "\n\n---\n\nTITOLO VIDEO: Titolo\n\n")
	assert.Contains(t, prompt, "DURATA VIDEO: 15:30 (930 secondi)\n\n")
	transcript := prompt[strings.Index(prompt, "TRASCRIZIONE:\n")+len("TRASCRIZIONE:\n"):]
	assert.Equal(t, 30000, len([]rune(transcript)))

	golden := NewEditorialService(nil, nil, "Il mio prompt")
	prompt = golden.BuildPrompt("Titolo", "testo", "", 0)
	assert.Equal(t, "Il mio prompt\n\n---\n\nTITOLO VIDEO: Titolo\n\nTRASCRIZIONE:\ntesto", prompt)
}

func TestEditorialService_Generate(t *testing.T) {
	gen := &fakeGenerator{description: sampleDescription}
	store := &fakeEditorialStore{}
	svc := NewEditorialService(gen, store, "")
	rec := &models.VideoRecord{VideoID: "dQw4w9WgXcQ", Title: "Con Giulia Bianchi", DurationFormatted: "15:30", DurationSeconds: 930}

	ed, err := svc.Generate(context.Background(), rec, "parla mario rossi")
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "TITOLO VIDEO: Con Giulia Bianchi")
	assert.Equal(t, []string{"Mario Rossi", "Giulia Bianchi"}, ed.Speakers)
	assert.Equal(t, ed, store.saved["dQw4w9WgXcQ"])
}

func TestEditorialService_GenerateErrors(t *testing.T) {
	svc := NewEditorialService(&fakeGenerator{err: stderrors.New("circuit open")}, &fakeEditorialStore{}, "")
	rec := &models.VideoRecord{VideoID: "dQw4w9WgXcQ", Title: "t"}

	_, err := svc.Generate(context.Background(), rec, "testo")
	assert.EqualError(t, err, "generate description: circuit open")

	_, err = svc.Generate(context.Background(), rec, "   ")
	assert.EqualError(t, err, "transcript missing")
}
