package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TenantProfile is the per-tenant configuration: synonym tables, decision
// thresholds, LLM caps and budget. Values not set in the YAML fall back to
// the defaults below.
type TenantProfile struct {
	Slug string `yaml:"slug" json:"slug"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Column header synonyms for the CSV/XLSX rule extractors,
	// canonical column -> accepted header names.
	ColumnSynonyms map[string][]string `yaml:"column_synonyms,omitempty" json:"column_synonyms,omitempty"`

	// UoM synonyms, raw token -> canonical UoM. Merged over the built-in
	// defaults; unknown synonyms map to null + issue downstream.
	UOMSynonyms map[string]string `yaml:"uom_synonyms,omitempty" json:"uom_synonyms,omitempty"`

	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	LLM        LLMLimits  `yaml:"llm" json:"llm"`

	// PRICE_MISMATCH severity policy: "WARNING" (default) or "ERROR".
	PriceMismatchSeverity string `yaml:"price_mismatch_severity,omitempty" json:"price_mismatch_severity,omitempty"`

	// StorePromptContent opts the tenant into full prompt storage in the
	// AI call log.
	StorePromptContent bool `yaml:"store_prompt_content,omitempty" json:"store_prompt_content,omitempty"`
}

// Thresholds are the decision-gate knobs.
type Thresholds struct {
	CustomerAutoSelect    float64 `yaml:"customer_auto_select" json:"customer_auto_select"`         // default 0.90
	CustomerAutoSelectGap float64 `yaml:"customer_auto_select_gap" json:"customer_auto_select_gap"` // default 0.07
	MatchAutoApply        float64 `yaml:"match_auto_apply" json:"match_auto_apply"`                 // default 0.92
	MatchAutoApplyGap     float64 `yaml:"match_auto_apply_gap" json:"match_auto_apply_gap"`         // default 0.10
	MatchLowConfidence    float64 `yaml:"match_low_confidence" json:"match_low_confidence"`         // default 0.75
	PriceTolerance        float64 `yaml:"price_tolerance" json:"price_tolerance"`                   // relative, default 0.05
}

// LLMLimits gate the LLM path fail-closed.
type LLMLimits struct {
	MaxPages          int     `yaml:"max_pages" json:"max_pages"`                     // default 20
	MaxTokensPerCall  int     `yaml:"max_tokens_per_call" json:"max_tokens_per_call"` // default 120000
	DailyBudgetMicros int64   `yaml:"daily_budget_micros" json:"daily_budget_micros"` // default 5_000_000 ($5)
	MaxLines          int     `yaml:"max_lines" json:"max_lines"`                     // default 500
	MaxQty            float64 `yaml:"max_qty" json:"max_qty"`                         // default 1_000_000
}

// DefaultProfile returns a profile with all defaults applied.
func DefaultProfile(slug string) *TenantProfile {
	p := &TenantProfile{Slug: slug}
	p.applyDefaults()
	return p
}

func (p *TenantProfile) applyDefaults() {
	if p.Thresholds.CustomerAutoSelect == 0 {
		p.Thresholds.CustomerAutoSelect = 0.90
	}
	if p.Thresholds.CustomerAutoSelectGap == 0 {
		p.Thresholds.CustomerAutoSelectGap = 0.07
	}
	if p.Thresholds.MatchAutoApply == 0 {
		p.Thresholds.MatchAutoApply = 0.92
	}
	if p.Thresholds.MatchAutoApplyGap == 0 {
		p.Thresholds.MatchAutoApplyGap = 0.10
	}
	if p.Thresholds.MatchLowConfidence == 0 {
		p.Thresholds.MatchLowConfidence = 0.75
	}
	if p.Thresholds.PriceTolerance == 0 {
		p.Thresholds.PriceTolerance = 0.05
	}
	if p.LLM.MaxPages == 0 {
		p.LLM.MaxPages = 20
	}
	if p.LLM.MaxTokensPerCall == 0 {
		p.LLM.MaxTokensPerCall = 120000
	}
	if p.LLM.DailyBudgetMicros == 0 {
		p.LLM.DailyBudgetMicros = 5_000_000
	}
	if p.LLM.MaxLines == 0 {
		p.LLM.MaxLines = 500
	}
	if p.LLM.MaxQty == 0 {
		p.LLM.MaxQty = 1_000_000
	}
	if p.PriceMismatchSeverity == "" {
		p.PriceMismatchSeverity = "WARNING"
	}
}

// LoadProfile loads tenant_<slug>.yaml from the profiles directory and
// applies defaults. A missing file yields the default profile.
func LoadProfile(profilesDir, slug string) (*TenantProfile, error) {
	slug = strings.ToLower(slug)
	path := filepath.Join(profilesDir, fmt.Sprintf("tenant_%s.yaml", slug))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(slug), nil
		}
		return nil, fmt.Errorf("load profile %q: %w", slug, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", slug, err)
	}
	if profile.Slug == "" {
		profile.Slug = slug
	}
	profile.applyDefaults()
	return &profile, nil
}

// LoadAllProfiles loads every tenant_*.yaml from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*TenantProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "tenant_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TenantProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var profile TenantProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Slug == "" {
			base := filepath.Base(path)
			profile.Slug = strings.TrimSuffix(strings.TrimPrefix(base, "tenant_"), ".yaml")
		}
		profile.applyDefaults()
		profiles[profile.Slug] = &profile
	}
	return profiles, nil
}
