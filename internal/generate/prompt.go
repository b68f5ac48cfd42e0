// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/httputil"
	"github.com/pdiddy/repurpose/pkg/types"
)

// reasoningPromptTmpl grounds the model in the retrieved passages verbatim
// and pins the output schema. The passage IDs quoted here are the only IDs
// a candidate may cite.
var reasoningPromptTmpl = template.Must(template.New("reasoning").Parse(`You are a drug repurposing analyst. Use ONLY the literature passages below as evidence.

Passages:
{{range .Passages}}[passage {{.ID}}] (document {{.DocumentID}}{{if not .Date.IsZero}}, {{.Date.Format "2006-01-02"}}{{end}}) {{.Text}}
{{end}}
Task: identify distinct drug repurposing candidates for the target '{{.Query}}'. Never put the query itself in the drug field.

Respond with a JSON array (even for a single candidate) and no text outside it. Each element must have exactly these fields:
- "drug": name of the candidate drug
- "mechanism": the proposed mechanism of action, never empty
- "target": the target disease or entity
- "supporting_passage_ids": non-empty array of passage IDs quoted above that support this candidate
- "rationale": a short summary of the reasoning

Example response:
[{"drug": "Metformin", "mechanism": "AMPK activation suppressing leukemic cell proliferation", "target": "Leukemia", "supporting_passage_ids": ["a1b2c3d4e5f6"], "rationale": "Two passages link AMPK signaling to blast survival."}]
`))

// correctivePromptTmpl is sent after a parse failure, quoting the error so
// the model can fix the shape of its output.
var correctivePromptTmpl = template.Must(template.New("corrective").Parse(`Your previous response could not be parsed: {{.ParseError}}

{{.Base}}`))

func renderPrompt(query string, passages []types.Passage) (string, error) {
	var buf bytes.Buffer
	err := reasoningPromptTmpl.Execute(&buf, struct {
		Query    string
		Passages []types.Passage
	}{Query: query, Passages: passages})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderCorrectivePrompt(query string, passages []types.Passage, parseErr error) (string, error) {
	base, err := renderPrompt(query, passages)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = correctivePromptTmpl.Execute(&buf, struct {
		ParseError string
		Base       string
	}{ParseError: parseErr.Error(), Base: base})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// geminiAPIBase is the Gemini generateContent endpoint prefix. Package-level
// var for test substitution.
var geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiBackend calls the Gemini REST API for reasoning.
type GeminiBackend struct {
	APIKey string
	Model  string
	Client *http.Client
	Log    audit.Logger
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Propose sends the prompt and returns the model's raw text response.
func (b *GeminiBackend) Propose(ctx context.Context, prompt string) (string, error) {
	log := audit.OrNop(b.Log)

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", geminiAPIBase, b.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", b.APIKey)

	start := time.Now()
	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		log.Event(audit.KindAPI, "Gemini | ERROR | %v", err)
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Round(10 * time.Millisecond)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Event(audit.KindAPI, "Gemini | %d | %s | FAILED", resp.StatusCode, elapsed)
		return "", fmt.Errorf("Gemini API returned %d: %s", resp.StatusCode, string(body))
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return "", fmt.Errorf("decoding Gemini response: %w", err)
	}

	var text strings.Builder
	for _, c := range gResp.Candidates {
		for _, part := range c.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("Gemini API returned no text content")
	}

	log.Event(audit.KindAPI, "Gemini | %d | %s | %d chars", resp.StatusCode, elapsed, text.Len())
	return text.String(), nil
}
