package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultEmbeddingModel = "gemini-embedding-001"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// Model is the generative model name. Defaults to gemini-2.5-flash.
	Model string
	// EmbeddingModel is the embedding model name. Defaults to
	// gemini-embedding-001. Used by Embed, which backs long-term memory.
	EmbeddingModel string
}

// Gemini implements CompletionProvider using google.golang.org/genai with a
// forced response schema, and additionally exposes Embed so the same client
// can serve as the long-term memory embedding function.
type Gemini struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

// NewGemini creates a Gemini provider. Safe for concurrent use.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm gemini: create client: %w", err)
	}

	g := &Gemini{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	if g.embeddingModel == "" {
		g.embeddingModel = defaultEmbeddingModel
	}
	return g, nil
}

// personaSchema forces the {"text","emotion"} response shape.
var personaSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"text":    {Type: genai.TypeString, Description: "The response text to speak"},
		"emotion": {Type: genai.TypeString, Description: "One of the persona's emotions"},
	},
	Required: []string{"text"},
}

// Complete generates a structured persona response. The system message is
// passed as the system instruction; the remaining messages become the
// conversation contents.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(temperature)),
		MaxOutputTokens:  int32(maxTokens),
		ResponseMIMEType: "application/json",
		ResponseSchema:   personaSchema,
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, ErrEmptyCompletion
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("llm gemini: generate content: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, ErrEmptyCompletion
	}

	resp := parseStructured(text)
	resp.Usage = &TokenUsage{Model: g.model, LatencyMS: time.Since(start).Milliseconds()}
	if meta := result.UsageMetadata; meta != nil {
		resp.Usage.PromptTokens = int(meta.PromptTokenCount)
		resp.Usage.CompletionTokens = int(meta.CandidatesTokenCount)
		resp.Usage.TotalTokens = int(meta.TotalTokenCount)
	}
	return resp, nil
}

// Embed produces an embedding vector for text. The signature matches
// memory.EmbedFunc so the same Gemini client powers long-term memory.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel,
		genai.Text(text), &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("llm gemini: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("llm gemini: embed content: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

var _ CompletionProvider = (*Gemini)(nil)
