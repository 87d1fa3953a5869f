package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"datalens/application/analyzer"
)

// ruleConfig is the optional fengshui.yaml at the workspace root. Every
// field has a working zero value, so the file only needs the knobs a team
// actually turns.
type ruleConfig struct {
	// MinHealth fails the gate when any module scores below it
	MinHealth int `yaml:"min_health"`

	// StyleWeight overrides the stylesheet !important budget
	StyleWeight int `yaml:"style_weight"`

	// Exclude prunes directory names from the walk, e.g. generated trees
	Exclude []string `yaml:"exclude"`
}

func loadRuleConfig(path string, explicit bool) (ruleConfig, error) {
	var rules ruleConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return rules, nil
		}
		return rules, fmt.Errorf("reading rule config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return rules, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rules, nil
}

// agentsFor applies rule overrides to the default agent set
func agentsFor(rules ruleConfig) []analyzer.Agent {
	agents := analyzer.DefaultAgents()
	if rules.StyleWeight > 0 {
		for i, agent := range agents {
			if _, ok := agent.(*analyzer.UXAgent); ok {
				agents[i] = analyzer.NewUXAgentWithThreshold(rules.StyleWeight)
			}
		}
	}
	return agents
}
