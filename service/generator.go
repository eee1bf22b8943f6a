package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"grantdraft-backend/models"
)

// Generator is the hosted language model boundary. Raw payloads are
// untrusted maps; every shape assumption lives behind
// ValidateWithRepair.
type Generator interface {
	GenerateSection(ctx context.Context, sectionKey string, evidence []models.RankedChunk, promptCtx models.PromptContext) (map[string]interface{}, error)
	ComputeCoverage(ctx context.Context, requirements *models.RequirementsArtifact, drafts []models.DraftArtifact) (map[string]interface{}, error)
}

// GeminiGenerator calls the Gemini generation API directly via HTTP
type GeminiGenerator struct {
	apiKey string
	client *http.Client
}

// NewGeminiGenerator creates a generator reading GEMINI_API_KEY from
// the environment
func NewGeminiGenerator() *GeminiGenerator {
	return &GeminiGenerator{
		apiKey: os.Getenv("GEMINI_API_KEY"),
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// GenerateSection asks the model for a section draft as JSON
func (g *GeminiGenerator) GenerateSection(
	ctx context.Context,
	sectionKey string,
	evidence []models.RankedChunk,
	promptCtx models.PromptContext,
) (map[string]interface{}, error) {
	var evidenceText strings.Builder
	for _, chunk := range evidence {
		evidenceText.WriteString(fmt.Sprintf("[%s, page %d] %s\n\n", chunk.DocumentID, chunk.Page, chunk.Text))
	}

	var contextText strings.Builder
	for k, v := range promptCtx {
		contextText.WriteString(fmt.Sprintf("%s: %v\n", k, v))
	}

	prompt := fmt.Sprintf(`You are an expert grant writer drafting one section of a grant application.

EVIDENCE (the only sources you may cite):
%s

APPLICANT CONTEXT:
%s

TASK:
Write the %q section. Every paragraph must cite the evidence above.

OUTPUT REQUIREMENTS:
- Respond with JSON only, no markdown fences, matching:
  {"section_key": %q,
   "paragraphs": [{"text": "...", "citations": [{"doc_id": "...", "page": 1, "snippet": "..."}], "confidence": 0.0}],
   "missing_evidence": [{"claim": "...", "suggested_upload": "..."}]}
- "snippet" must be copied verbatim from the evidence text
- "page" must match the evidence page you are citing
- If a claim cannot be supported by the evidence, list it under missing_evidence instead of inventing a citation
- Use objective, factual language; no hyperbole

Write the JSON now:`,
		evidenceText.String(),
		contextText.String(),
		sectionKey,
		sectionKey,
	)

	return g.generateJSON(ctx, prompt, 0.2)
}

// ComputeCoverage asks the model to judge every requirement against
// the drafts
func (g *GeminiGenerator) ComputeCoverage(
	ctx context.Context,
	requirements *models.RequirementsArtifact,
	drafts []models.DraftArtifact,
) (map[string]interface{}, error) {
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requirements: %w", err)
	}
	draftJSON, err := json.Marshal(drafts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal drafts: %w", err)
	}

	prompt := fmt.Sprintf(`You are auditing a grant application draft against its requirements.

REQUIREMENTS:
%s

DRAFTS:
%s

TASK:
Judge each requirement as met, partial, or missing based only on the drafts above.

OUTPUT REQUIREMENTS:
- Respond with JSON only, no markdown fences, matching:
  {"items": [{"requirement_id": "Q1", "status": "met", "notes": "...", "evidence_refs": ["doc.pdf#p1"]}]}
- status must be exactly one of: met, partial, missing
- evidence_refs must point at documents actually cited in the drafts

Write the JSON now:`,
		string(reqJSON),
		string(draftJSON),
	)

	return g.generateJSON(ctx, prompt, 0.1)
}

// generateJSON calls the model with retry and parses its reply as a
// JSON object. A reply that is not JSON is NOT a provider error: it
// flows to ValidateWithRepair as an unusable payload.
func (g *GeminiGenerator) generateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, error) {
	var text string
	var err error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		text, err = g.callGenerationAPI(ctx, prompt, temperature)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("generation failed after %d attempts: %v: %w", maxRetries, err, ErrGenerationProvider)
			}
			continue
		}
		if text != "" {
			break
		}
		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("generation returned empty content: %w", ErrGenerationProvider)
		}
	}

	payload := make(map[string]interface{})
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(text)), &payload); jsonErr != nil {
		log.Printf("Warning: generator returned non-JSON content (%d chars), passing through for repair", len(text))
		return map[string]interface{}{"_raw": text}, nil
	}
	return payload, nil
}

// extractJSONObject trims markdown fences and any prose surrounding the
// outermost JSON object
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// callGenerationAPI calls the Gemini generation API directly via HTTP
func (g *GeminiGenerator) callGenerationAPI(ctx context.Context, prompt string, temperature float64) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY not set")
	}

	// Truncate prompt if too long to avoid context limits
	if len(prompt) > 30000 {
		log.Printf("Warning: Prompt too long (%d chars), truncating to 30000 chars", len(prompt))
		prompt = prompt[:30000] + "\n\n[Content truncated due to length...]"
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature": temperature,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", generationAPI, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Printf("Gemini API error: Status %d, Body: %s", resp.StatusCode, string(bodyBytes))
		return "", fmt.Errorf("API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason,omitempty"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason,omitempty"`
		} `json:"promptFeedback,omitempty"`
		Error struct {
			Code    int    `json:"code,omitempty"`
			Message string `json:"message,omitempty"`
		} `json:"error,omitempty"`
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		log.Printf("Failed to decode response. Body: %s", string(bodyBytes))
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if apiResp.Error.Message != "" {
		return "", fmt.Errorf("API error: %s (code: %d)", apiResp.Error.Message, apiResp.Error.Code)
	}

	if apiResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("API blocked prompt: %s", apiResp.PromptFeedback.BlockReason)
	}

	if len(apiResp.Candidates) == 0 {
		log.Printf("API returned no candidates. Full response: %s", string(bodyBytes))
		return "", fmt.Errorf("API returned no candidates")
	}

	var responseText strings.Builder
	for i, candidate := range apiResp.Candidates {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			log.Printf("Warning: Candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		if len(candidate.Content.Parts) == 0 {
			return "", fmt.Errorf("API candidate has no parts (finish reason: %s)", candidate.FinishReason)
		}
		for j, part := range candidate.Content.Parts {
			if part.Text == "" {
				log.Printf("Warning: Candidate %d, part %d has empty text", i, j)
				continue
			}
			responseText.WriteString(part.Text)
		}
	}

	result := responseText.String()
	if result == "" {
		return "", fmt.Errorf("API returned empty content")
	}

	return result, nil
}
