// Package llm turns item photos and titles into eBay search queries
// using Gemini vision.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash-lite"

const querySuggestionPrompt = `Generate an optimized eBay search query to find sold listings of this exact item.

Item title (may be in Japanese): %s

Look at the photo and the title together and extract the core product identifier:
- For figures: character name, series and scale (e.g., "Hatsune Miku figure 1/8")
- For trading cards: game, character and set (e.g., "Pokemon Charizard VMAX")
- For electronics: brand and model (e.g., "Sony WH-1000XM4")
- For books/media: title and format (e.g., "Evangelion artbook")

Do NOT include:
- Condition descriptors ("used", "boxed", "junk")
- Japanese marketplace jargon
- Generic category words ("anime goods", "hobby item")

Respond with ONLY the search query in English (2-6 words), no quotes or explanation.`

// QuerySuggester proposes an English eBay search query for an item.
type QuerySuggester interface {
	SuggestQuery(ctx context.Context, title string, imageData []byte) (string, error)
}

// GeminiSuggester implements QuerySuggester on the Gemini API.
type GeminiSuggester struct {
	client *genai.Client
}

// NewGeminiSuggester creates a suggester authenticated via the
// GEMINI_API_KEY environment variable.
func NewGeminiSuggester(ctx context.Context) (*GeminiSuggester, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiSuggester{client: client}, nil
}

// SuggestQuery asks Gemini for a search query. The image is optional;
// with no image the model works from the title alone.
func (g *GeminiSuggester) SuggestQuery(ctx context.Context, title string, imageData []byte) (string, error) {
	prompt := fmt.Sprintf(querySuggestionPrompt, title)

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(imageData) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: imageData, MIMEType: "image/jpeg"},
		})
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate search query: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}

	query := strings.TrimSpace(strings.Trim(result.Text(), "\"'`"))
	if query == "" {
		return "", fmt.Errorf("empty query from Gemini")
	}

	log.Debug().Str("title", title).Str("query", query).Msg("Gemini suggested search query")
	return query, nil
}
