// Package feedback asks a generative model to comment on a claim.
//
// FAILING OPEN:
// Feedback is decoration. Generate never returns an error: an unreachable
// endpoint, a quota error or an empty answer all collapse into a canned
// sentence, and the claim that triggered the request has already been
// committed by the time any of this runs.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-3-flash-preview"

// Canned answers.
const (
	EmptyFallback = "Seu registro foi detectado pela malha temporal."
	ErrorFallback = "Protocolo de análise interrompido. Legado registrado."
)

// SystemInstruction frames the model as the network's judge.
const SystemInstruction = "Você é um juiz de uma rede social futurista chamada Crono Esfera. " +
	"Dê um feedback curto (máximo 15 palavras), estilo cyberpunk, enaltecendo ou criticando a audácia dele."

// ClaimPrompt describes a fresh claim to the model.
func ClaimPrompt(userName, title string) string {
	return fmt.Sprintf("O usuário '%s' acabou de reivindicar um setor com o título '%s'.", userName, title)
}

// Notification formats the text the way it is shown to the user.
func Notification(text string) string {
	return fmt.Sprintf(`IA: "%s"`, text)
}

// Generator produces a short text. Implementations must not fail.
type Generator interface {
	Generate(ctx context.Context, prompt, systemInstruction string) string
}

// Static always answers with Text. It stands in when no API key is set.
type Static struct {
	Text string
}

func (s Static) Generate(context.Context, string, string) string {
	if s.Text == "" {
		return EmptyFallback
	}
	return s.Text
}

// generateFunc matches genai's Models.GenerateContent.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Gemini calls the Gemini API through google.golang.org/genai.
type Gemini struct {
	generate generateFunc
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGemini creates a client for apiKey. An empty model selects DefaultModel.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("feedback: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: creating genai client: %w", err)
	}

	return newGemini(client.Models.GenerateContent, model, logger), nil
}

func newGemini(generate generateFunc, model string, logger *slog.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{
		generate: generate,
		model:    model,
		timeout:  15 * time.Second,
		logger:   logger,
	}
}

// Generate sends prompt with systemInstruction and returns the model's text,
// or a fallback.
func (g *Gemini) Generate(ctx context.Context, prompt, systemInstruction string) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := g.generate(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		g.logger.Warn("feedback generation failed",
			slog.String("model", g.model),
			slog.String("error", err.Error()),
		)
		return ErrorFallback
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return EmptyFallback
	}
	return text
}
