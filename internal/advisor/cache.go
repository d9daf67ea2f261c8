package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CachingClient memoizes classify/generate responses on disk, keyed by
// the hash of the request batch, scoped to one record invocation's
// temp directory. Not a correctness requirement, since Tier 2 output
// becomes deterministic once captured in pins. An identical batch
// requested again during the same run is answered from disk instead
// of the inner client; a failed call is not cached and is not retried.
type CachingClient struct {
	inner Client
	dir   string
}

// NewCachingClient wraps inner, caching under dir (the CLI passes a
// fresh temp directory per record invocation).
func NewCachingClient(inner Client, dir string) *CachingClient {
	return &CachingClient{inner: inner, dir: dir}
}

func batchKey(kind string, batch []ConflictInput) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(kind)
	_ = enc.Encode(batch)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachingClient) path(key string) string {
	return filepath.Join(c.dir, "advisor-cache-"+key+".json")
}

func load[T any](path string) (T, bool) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, false
	}
	if json.Unmarshal(data, &v) != nil {
		return v, false
	}
	return v, true
}

func save(path string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, data, 0o644)
}

func (c *CachingClient) Classify(ctx context.Context, batch []ConflictInput) ([]ClassifyResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	key := batchKey("classify", batch)
	path := c.path(key)
	if cached, ok := load[[]ClassifyResult](path); ok {
		return cached, nil
	}
	out, err := c.inner.Classify(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("classify (cache miss): %w", err)
	}
	save(path, out)
	return out, nil
}

func (c *CachingClient) Generate(ctx context.Context, batch []ConflictInput) ([]GenerateResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	key := batchKey("generate", batch)
	path := c.path(key)
	if cached, ok := load[[]GenerateResult](path); ok {
		return cached, nil
	}
	out, err := c.inner.Generate(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("generate (cache miss): %w", err)
	}
	save(path, out)
	return out, nil
}
