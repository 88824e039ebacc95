package service

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
)

// ApproverPolicy maps each risk level to the pool of identities allowed to
// approve flags at that level.
type ApproverPolicy struct {
	tiers     map[domain.RiskLevel][]string
	overrides map[string]struct{}
}

// approverPolicyFile is the YAML layout of APPROVER_POLICY_FILE:
//
//	tiers:
//	  low: [alice@company.com, bob@company.com]
//	  critical: [security-lead@company.com]
//	overrides: [cto@company.com]
type approverPolicyFile struct {
	Tiers     map[string][]string `yaml:"tiers"`
	Overrides []string            `yaml:"overrides"`
}

func NewApproverPolicy(tiers map[domain.RiskLevel][]string, overrides []string) (*ApproverPolicy, error) {
	p := &ApproverPolicy{
		tiers:     make(map[domain.RiskLevel][]string, len(domain.RiskLevels)),
		overrides: make(map[string]struct{}, len(overrides)),
	}
	for level, pool := range tiers {
		if !level.Valid() {
			return nil, fmt.Errorf("approver policy: unknown risk level %q", level)
		}
		p.tiers[level] = normalizePool(pool)
	}
	for _, level := range domain.RiskLevels {
		if len(p.tiers[level]) == 0 {
			return nil, fmt.Errorf("approver policy: no approvers for risk level %q", level)
		}
	}
	for _, id := range normalizePool(overrides) {
		p.overrides[id] = struct{}{}
	}
	return p, nil
}

func LoadApproverPolicyFile(path string) (*ApproverPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approver policy: %w", err)
	}
	var file approverPolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse approver policy %s: %w", path, err)
	}
	tiers := make(map[domain.RiskLevel][]string, len(file.Tiers))
	for level, pool := range file.Tiers {
		tiers[domain.RiskLevel(strings.ToLower(strings.TrimSpace(level)))] = pool
	}
	return NewApproverPolicy(tiers, file.Overrides)
}

// ApproverPolicyFromConfig prefers the policy file and falls back to the
// APPROVERS_* pools.
func ApproverPolicyFromConfig(cfg *config.Config) (*ApproverPolicy, error) {
	if cfg.ApproverPolicyFile != "" {
		p, err := LoadApproverPolicyFile(cfg.ApproverPolicyFile)
		if err != nil {
			return nil, err
		}
		for _, id := range normalizePool(cfg.ApprovalOverrideApprovers) {
			p.overrides[id] = struct{}{}
		}
		return p, nil
	}
	return NewApproverPolicy(map[domain.RiskLevel][]string{
		domain.RiskLevelLow:      cfg.ApproversLow,
		domain.RiskLevelMedium:   cfg.ApproversMedium,
		domain.RiskLevelHigh:     cfg.ApproversHigh,
		domain.RiskLevelCritical: cfg.ApproversCritical,
	}, cfg.ApprovalOverrideApprovers)
}

// Assign picks the approver for a flag. The pick is a stable function of
// the flag id so retries of the same submission land on the same person.
func (p *ApproverPolicy) Assign(level domain.RiskLevel, flagID string) (string, error) {
	pool := p.tiers[level]
	if len(pool) == 0 {
		return "", fmt.Errorf("%w: no approver tier for risk level %q", domain.ErrInvariantViolation, level)
	}
	if len(pool) == 1 {
		return pool[0], nil
	}
	return pool[xxhash.Sum64String(flagID)%uint64(len(pool))], nil
}

func (p *ApproverPolicy) Pool(level domain.RiskLevel) []string {
	return append([]string(nil), p.tiers[level]...)
}

func (p *ApproverPolicy) CanOverride(approverID string) bool {
	_, ok := p.overrides[strings.TrimSpace(approverID)]
	return ok
}

func normalizePool(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
