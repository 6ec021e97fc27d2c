package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	genai "google.golang.org/genai"
)

// ErrInvalidJSON is returned when the model's reply is not a score object.
var ErrInvalidJSON = errors.New("oracle: invalid JSON from model")

const defaultGeminiModel = "gemini-2.5-flash"

// maxExcerpt caps how much of a textual payload is sent to the model.
const maxExcerpt = 4096

const scoringPrompt = `You are a strict reviewer of generated media for a video production.
Score the asset below from 0 to 100 for how well it could be used as-is.
Reply with a JSON object only:
{"overall": number, "sub_scores": {"fidelity": number, "continuity": number}, "issues": [string]}`

// generateFunc matches genai's Models.GenerateContent.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Gemini asks a Gemini model to score assets.
type Gemini struct {
	model    string
	generate generateFunc
}

// NewGemini creates a Gemini-backed oracle. An empty apiKey falls back to
// the client's environment lookup (GEMINI_API_KEY / GOOGLE_API_KEY).
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{model: model, generate: cli.Models.GenerateContent}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

// Score sends the asset description and a payload excerpt and parses the
// model's JSON reply. Transport errors are returned unchanged so callers
// can decide on retries.
func (g *Gemini) Score(ctx context.Context, asset Asset, sc Context) (Score, error) {
	input := map[string]any{
		"asset_id":       asset.ID,
		"segment_id":     asset.SegmentID,
		"type":           asset.Type,
		"mime":           asset.MIME,
		"tier":           sc.Tier,
		"pass_threshold": sc.PassThreshold,
		"payload_bytes":  len(asset.Payload),
	}
	if excerpt, ok := textExcerpt(asset.Payload); ok {
		input["payload_excerpt"] = excerpt
	}
	in, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return Score{}, fmt.Errorf("marshal scoring input: %w", err)
	}
	full := scoringPrompt + "\n\n[INPUT JSON]\n" + string(in)
	slog.Debug("scoring request", "oracle", g.Name(), "asset", asset.ID, "bytes", len(full))

	resp, err := g.generate(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return Score{}, fmt.Errorf("gemini score %s: %w", asset.ID, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return Score{}, ErrInvalidJSON
	}

	var s Score
	txt := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(txt), &s); err != nil {
		return Score{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return finalize(s, sc.PassThreshold)
}

// textExcerpt returns a bounded prefix of payloads that are valid UTF-8.
func textExcerpt(payload []byte) (string, bool) {
	if len(payload) == 0 || !utf8.Valid(payload) {
		return "", false
	}
	if len(payload) > maxExcerpt {
		payload = payload[:maxExcerpt]
		for !utf8.Valid(payload) {
			payload = payload[:len(payload)-1]
		}
	}
	return string(payload), true
}
