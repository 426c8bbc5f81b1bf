package confirm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/cache"
)

// ConfirmerConfig configures the VulnerabilityConfirmer.
type ConfirmerConfig struct {
	// RepoRoot is the codebase under confirmation.
	RepoRoot string
	// MaxFiles bounds one discovery pass. Default 200.
	MaxFiles int
	// CacheTTL bounds cached confirmation results. Default 1h.
	CacheTTL time.Duration
}

// VulnerabilityConfirmer drives file discovery and structural matching to a
// ConfirmationResult per APV.
//
// Results are cached keyed by (APV id, content hash of the candidate file
// set); a changed file invalidates the key by construction. A searcher
// failure is retried once with the pattern set reduced to the most specific
// pattern before being reported as StatusError. Errors are never downgraded
// to false positives.
type VulnerabilityConfirmer struct {
	searcher StructuralSearcher
	cache    cache.Provider
	cfg      ConfirmerConfig
	logger   *zap.Logger
}

// NewVulnerabilityConfirmer creates a confirmer. cache may be nil to disable
// result caching.
func NewVulnerabilityConfirmer(searcher StructuralSearcher, c cache.Provider, cfg ConfirmerConfig, logger *zap.Logger) *VulnerabilityConfirmer {
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 200
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if c == nil {
		c = cache.NoopProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VulnerabilityConfirmer{
		searcher: searcher,
		cache:    c,
		cfg:      cfg,
		logger:   logger,
	}
}

// Confirm produces the ConfirmationResult for one APV.
//
// The returned error is non-nil only for failures outside confirmation
// semantics (e.g. discovery I/O); tooling failures are encoded in the
// result's StatusError so callers always receive a result to record.
func (v *VulnerabilityConfirmer) Confirm(ctx context.Context, a *apv.APV) (*apv.ConfirmationResult, error) {
	start := time.Now()

	files, err := DiscoverFiles(v.cfg.RepoRoot, a, v.cfg.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("confirm: discovering files for %s: %w", a.ID, err)
	}

	if len(files) == 0 || len(a.Patterns) == 0 {
		return &apv.ConfirmationResult{
			APVID:  a.ID,
			Status: apv.StatusFalsePositive,
			Metadata: apv.ConfirmationMetadata{
				Timestamp:     time.Now(),
				PatternsTried: a.Patterns,
				FilesScanned:  len(files),
				Duration:      time.Since(start),
			},
		}, nil
	}

	key := v.cacheKey(a.ID, files)
	if cached := v.lookup(ctx, key); cached != nil {
		v.logger.Debug("confirmation cache hit",
			zap.String("apv_id", a.ID),
			zap.String("status", string(cached.Status)),
		)
		return cached, nil
	}

	result := v.scan(ctx, a, files, a.Patterns)
	if result.Status == apv.StatusError {
		// Retry once with the pattern set reduced to the most specific
		// (first) pattern.
		v.logger.Warn("structural search failed, retrying with reduced pattern set",
			zap.String("apv_id", a.ID),
			zap.String("error", result.Error),
		)
		retry := v.scan(ctx, a, files, a.Patterns[:1])
		if retry.Status != apv.StatusError {
			result = retry
		}
	}

	result.Metadata.Duration = time.Since(start)

	if result.Status != apv.StatusError {
		v.store(ctx, key, result)
	}
	return result, nil
}

// scan runs every pattern against every candidate file.
func (v *VulnerabilityConfirmer) scan(ctx context.Context, a *apv.APV, files, patterns []string) *apv.ConfirmationResult {
	result := &apv.ConfirmationResult{
		APVID:  a.ID,
		Status: apv.StatusPending,
		Metadata: apv.ConfirmationMetadata{
			Timestamp:     time.Now(),
			PatternsTried: patterns,
			FilesScanned:  len(files),
		},
	}

	for _, pattern := range patterns {
		for _, rel := range files {
			target := filepath.Join(v.cfg.RepoRoot, filepath.FromSlash(rel))
			matches, err := v.searcher.Search(ctx, pattern, target, a.Language)
			if err != nil {
				result.Status = apv.StatusError
				result.Error = err.Error()
				return result
			}
			for _, m := range matches {
				result.Locations = append(result.Locations, apv.VulnerableLocation{
					FilePath:   rel,
					StartLine:  m.StartLine,
					EndLine:    m.EndLine,
					Snippet:    m.Text,
					Pattern:    m.Pattern,
					Confidence: 1.0, // exact structural match
				})
			}
		}
	}

	if len(result.Locations) > 0 {
		result.Status = apv.StatusConfirmed
	} else {
		result.Status = apv.StatusFalsePositive
	}
	return result
}

// cacheKey hashes the candidate file contents so unchanged trees replay the
// cached result and any edit invalidates it.
func (v *VulnerabilityConfirmer) cacheKey(apvID string, files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	h := sha256.New()
	for _, rel := range sorted {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		content, err := os.ReadFile(filepath.Join(v.cfg.RepoRoot, filepath.FromSlash(rel)))
		if err == nil {
			h.Write(content)
		}
		h.Write([]byte{0})
	}
	return fmt.Sprintf("eureka:confirm:%s:%s", apvID, hex.EncodeToString(h.Sum(nil)))
}

func (v *VulnerabilityConfirmer) lookup(ctx context.Context, key string) *apv.ConfirmationResult {
	data, err := v.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			v.logger.Warn("confirmation cache read failed", zap.Error(err))
		}
		return nil
	}
	var result apv.ConfirmationResult
	if err := json.Unmarshal(data, &result); err != nil {
		v.logger.Warn("discarding undecodable cached confirmation", zap.Error(err))
		return nil
	}
	return &result
}

func (v *VulnerabilityConfirmer) store(ctx context.Context, key string, result *apv.ConfirmationResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := v.cache.Set(ctx, key, data, v.cfg.CacheTTL); err != nil {
		v.logger.Warn("confirmation cache write failed", zap.Error(err))
	}
}
