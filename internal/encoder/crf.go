package encoder

import (
	"context"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/transcoder"
)

// Searcher finds a CRF meeting a quality target. *transcoder.AbAV1 implements it.
type Searcher interface {
	SearchCRF(ctx context.Context, req transcoder.CRFSearch) (int, error)
}

// FindCRF runs one search and falls back to cfg.DefaultQualityLevel when the
// search fails or is unavailable.
func FindCRF(ctx context.Context, searcher Searcher, cfg Config, req transcoder.CRFSearch, logger hclog.Logger) int {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg = cfg.withDefaults()
	if req.Preset == "" {
		req.Preset = cfg.DefaultPreset
	}
	if req.MinVMAF <= 0 {
		req.MinVMAF = cfg.DefaultMinVMAF
	}
	if req.MinCRF <= 0 {
		req.MinCRF = cfg.MinCRF
	}
	if req.MaxCRF <= 0 {
		req.MaxCRF = cfg.MaxCRF
	}

	if searcher == nil {
		logger.Warn("no crf searcher, using default quality", "crf", cfg.DefaultQualityLevel)
		return cfg.DefaultQualityLevel
	}
	crf, err := searcher.SearchCRF(ctx, req)
	if err != nil {
		logger.Warn("crf search failed, using default quality", "crf", cfg.DefaultQualityLevel, "error", err)
		return cfg.DefaultQualityLevel
	}
	return crf
}

func intOption(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func floatOption(s string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}
