package advisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ConflictInput is one hunk's three sections, as joined text, handed
// to either RPC.
type ConflictInput struct {
	Index  int
	Ours   string
	Base   string
	Theirs string
}

// ClassifyResult pairs a conflict index with its Tier 1 strategy.
type ClassifyResult struct {
	Index    int
	Strategy Strategy
}

// GenerateResult pairs a conflict index with its Tier 2 merged text.
type GenerateResult struct {
	Index int
	Text  string
}

// Client is the oracle boundary: two stateless RPCs, batched one call
// per merge step's remaining hunks.
type Client interface {
	Classify(ctx context.Context, batch []ConflictInput) ([]ClassifyResult, error)
	Generate(ctx context.Context, batch []ConflictInput) ([]GenerateResult, error)
}

// HTTPClient posts a single prompt per batch to an HTTP endpoint and
// parses the plain-text response with ParseStrategyLines /
// ParseGenerateBlocks. Request bodies are gzip-compressed: a batched
// Tier 1/2 prompt can carry many KB of hunk text across a large
// conflicted merge.
type HTTPClient struct {
	Endpoint string
	HTTP     *http.Client
}

// NewHTTPClient returns a client posting to endpoint with a sane
// default timeout. The advisor enforces its own deadline, so this is
// a generous outer bound, not a retry policy.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, HTTP: &http.Client{Timeout: 5 * time.Minute}}
}

func (c *HTTPClient) post(ctx context.Context, path, prompt string) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(prompt)); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisor %s returned %d: %s", path, resp.StatusCode, body)
	}
	return string(body), nil
}

// Classify sends one batched classify request and maps results back
// onto batch order. A missing or unrecognized response line maps to
// StrategyGenerate, the documented fallback.
func (c *HTTPClient) Classify(ctx context.Context, batch []ConflictInput) ([]ClassifyResult, error) {
	prompt := buildClassifyPrompt(batch)
	body, err := c.post(ctx, "/classify", prompt)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	parsed := ParseStrategyLines(body)
	out := make([]ClassifyResult, len(batch))
	for i, item := range batch {
		strategy, ok := parsed[item.Index]
		if !ok {
			strategy = StrategyGenerate
		}
		out[i] = ClassifyResult{Index: item.Index, Strategy: strategy}
	}
	return out, nil
}

// Generate sends one batched generate request. A conflict with no
// matching block is an AdvisorError: every hunk must resolve to
// something.
func (c *HTTPClient) Generate(ctx context.Context, batch []ConflictInput) ([]GenerateResult, error) {
	prompt := buildGeneratePrompt(batch)
	body, err := c.post(ctx, "/generate", prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	parsed := ParseGenerateBlocks(body)
	out := make([]GenerateResult, 0, len(batch))
	var missing []int
	for _, item := range batch {
		text, ok := parsed[item.Index]
		if !ok {
			missing = append(missing, item.Index)
			continue
		}
		out = append(out, GenerateResult{Index: item.Index, Text: text})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("generate: advisor returned no block for conflicts %v", missing)
	}
	return out, nil
}

func buildClassifyPrompt(batch []ConflictInput) string {
	var b strings.Builder
	b.WriteString("Classify each merge conflict below. Respond with exactly one line per conflict:\n")
	b.WriteString("N STRATEGY\nwhere STRATEGY is one of OURS, THEIRS, BOTH_OT, BOTH_TO, GENERATE.\n\n")
	for _, item := range batch {
		fmt.Fprintf(&b, "--- CONFLICT %d ---\nOURS:\n%s\nBASE:\n%s\nTHEIRS:\n%s\n\n",
			item.Index, item.Ours, item.Base, item.Theirs)
	}
	return b.String()
}

func buildGeneratePrompt(batch []ConflictInput) string {
	var b strings.Builder
	b.WriteString("Merge each conflict below into a single resolved block. Respond with one block per\n")
	b.WriteString("conflict, headed exactly:\n=== RESOLUTION N ===\ncontaining only the merged code, no fences, no commentary.\n\n")
	for _, item := range batch {
		fmt.Fprintf(&b, "--- CONFLICT %d ---\nOURS:\n%s\nBASE:\n%s\nTHEIRS:\n%s\n\n",
			item.Index, item.Ours, item.Base, item.Theirs)
	}
	return b.String()
}
