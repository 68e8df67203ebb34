package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"sqlgate/internal/policy"
)

// Governance holds the policy rules and workflow definitions loaded from the
// governance file. Rules are validated and ordered as written.
type Governance struct {
	Rules     []*policy.Rule
	Workflows []*policy.WorkflowDefinition
}

// governanceFile mirrors the TOML layout of the governance file.
type governanceFile struct {
	Rules     []ruleSpec     `toml:"rule"`
	Workflows []workflowSpec `toml:"workflow"`
}

type ruleSpec struct {
	Kind     string   `toml:"kind"`
	Action   string   `toml:"action"`
	Message  string   `toml:"message"`
	Values   []string `toml:"values"`
	Expected bool     `toml:"expected"`
	Pattern  string   `toml:"pattern"`
	Max      int      `toml:"max"`
	Key      string   `toml:"key"`
	Value    string   `toml:"value"`
	FromHour int      `toml:"from_hour"`
	ToHour   int      `toml:"to_hour"`
}

type workflowSpec struct {
	ID       string     `toml:"id"`
	Name     string     `toml:"name"`
	Priority int        `toml:"priority"`
	Roles    []string   `toml:"roles"`
	Servers  []string   `toml:"servers"`
	Rule     *ruleSpec  `toml:"rule"`
	Steps    []stepSpec `toml:"step"`
}

type stepSpec struct {
	ApproverType  string `toml:"approver_type"`
	ApproverValue string `toml:"approver_value"`
	Required      bool   `toml:"required"`
}

// LoadGovernance reads and validates the governance file. A missing file
// yields an empty Governance, not an error.
func LoadGovernance(path string) (*Governance, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Governance{}, nil
	}

	var file governanceFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decoding governance file: %w", err)
	}

	gov := &Governance{
		Rules:     make([]*policy.Rule, 0, len(file.Rules)),
		Workflows: make([]*policy.WorkflowDefinition, 0, len(file.Workflows)),
	}

	for i, spec := range file.Rules {
		rule := spec.toRule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		gov.Rules = append(gov.Rules, rule)
	}

	for i, spec := range file.Workflows {
		def, err := spec.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i+1, err)
		}
		gov.Workflows = append(gov.Workflows, def)
	}

	return gov, nil
}

func (s *ruleSpec) toRule() *policy.Rule {
	return &policy.Rule{
		Kind:     policy.RuleKind(s.Kind),
		Action:   policy.RuleAction(s.Action),
		Message:  s.Message,
		Values:   s.Values,
		Expected: s.Expected,
		Pattern:  s.Pattern,
		Max:      s.Max,
		Key:      s.Key,
		Value:    s.Value,
		FromHour: s.FromHour,
		ToHour:   s.ToHour,
	}
}

func (s *workflowSpec) toDefinition() (*policy.WorkflowDefinition, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("workflow requires an id")
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s requires at least one step", s.ID)
	}

	def := &policy.WorkflowDefinition{
		ID:       s.ID,
		Name:     s.Name,
		Priority: s.Priority,
		Roles:    s.Roles,
		Servers:  s.Servers,
	}
	if s.Rule != nil {
		rule := s.Rule.toRule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %s rule: %w", s.ID, err)
		}
		def.Rule = rule
	}
	for _, step := range s.Steps {
		if step.ApproverValue == "" {
			return nil, fmt.Errorf("workflow %s has a step without an approver", s.ID)
		}
		def.Steps = append(def.Steps, policy.Step{
			ApproverType:  step.ApproverType,
			ApproverValue: step.ApproverValue,
			Required:      step.Required,
		})
	}
	return def, nil
}
