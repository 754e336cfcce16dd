package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"jctledger/native/schedule"
)

// policyFile mirrors the YAML representation of a job transition policy.
//
//	preset: strict            # optional: default | strict
//	transitions:              # optional: replaces the preset when present
//	  PENDING: [IN_PROGRESS]
//	  IN_PROGRESS: [COMPLETE, DISPUTED]
type policyFile struct {
	Preset      string              `yaml:"preset"`
	Transitions map[string][]string `yaml:"transitions"`
}

// LoadPolicy reads a job transition policy from the YAML file at path.
func LoadPolicy(path string) (schedule.TransitionPolicy, error) {
	file, err := os.Open(path)
	if err != nil {
		return schedule.TransitionPolicy{}, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var entry policyFile
	if err := dec.Decode(&entry); err != nil {
		return schedule.TransitionPolicy{}, fmt.Errorf("decode policy: %w", err)
	}
	return entry.policy()
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (schedule.TransitionPolicy, error) {
	var entry policyFile
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return schedule.TransitionPolicy{}, fmt.Errorf("decode policy: %w", err)
	}
	return entry.policy()
}

func (f policyFile) policy() (schedule.TransitionPolicy, error) {
	if len(f.Transitions) > 0 {
		edges := make(map[schedule.JobStatus][]schedule.JobStatus, len(f.Transitions))
		for from, targets := range f.Transitions {
			source, err := schedule.ParseJobStatus(from)
			if err != nil {
				return schedule.TransitionPolicy{}, fmt.Errorf("policy transitions: %w", err)
			}
			for _, to := range targets {
				target, err := schedule.ParseJobStatus(to)
				if err != nil {
					return schedule.TransitionPolicy{}, fmt.Errorf("policy transitions from %s: %w", source, err)
				}
				edges[source] = append(edges[source], target)
			}
		}
		return schedule.NewTransitionPolicy(edges)
	}
	switch strings.ToLower(strings.TrimSpace(f.Preset)) {
	case "", "default":
		return schedule.DefaultPolicy(), nil
	case "strict":
		return schedule.StrictPolicy(), nil
	default:
		return schedule.TransitionPolicy{}, fmt.Errorf("policy: unknown preset %q", f.Preset)
	}
}

// Validator builds the transition validator described by v.
func (v Validation) Validator() (*schedule.Validator, error) {
	tolerance, err := v.ParsedTolerance()
	if err != nil {
		return nil, err
	}
	policy := schedule.DefaultPolicy()
	if path := strings.TrimSpace(v.PolicyFile); path != "" {
		policy, err = LoadPolicy(path)
		if err != nil {
			return nil, err
		}
	}
	return schedule.NewValidator(schedule.WithPolicy(policy), schedule.WithTolerance(tolerance)), nil
}
