// ABOUTME: YAML loading of pipeline definitions into the immutable model.
// ABOUTME: Step variants decode from a mapping keyed by their kind, with scalar shorthands for simple kinds.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlPipeline struct {
	Name        string            `yaml:"name"`
	Environment map[string]string `yaml:"environment"`
	Agent       *yamlAgent        `yaml:"agent"`
	Stages      []yamlStage       `yaml:"stages"`
}

type yamlAgent struct {
	Type  string `yaml:"type"`
	Image string `yaml:"image"`
	Label string `yaml:"label"`
}

type yamlWhen struct {
	Branch   string `yaml:"branch"`
	EnvKey   string `yaml:"env_key"`
	EnvValue string `yaml:"env_value"`
	Not      bool   `yaml:"not"`
}

type yamlPost struct {
	Condition string `yaml:"condition"`
	Steps     []Step `yaml:"steps"`
}

type yamlStage struct {
	Name        string            `yaml:"name"`
	Environment map[string]string `yaml:"environment"`
	Agent       *yamlAgent        `yaml:"agent"`
	When        *yamlWhen         `yaml:"when"`
	Steps       []Step            `yaml:"steps"`
	Post        []yamlPost        `yaml:"post"`
	Timeout     string            `yaml:"timeout"`
	FailFast    *bool             `yaml:"fail_fast"`
}

// Parse decodes a pipeline definition from YAML source.
func Parse(source []byte) (*Pipeline, error) {
	var doc yamlPipeline
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, fmt.Errorf("decoding pipeline: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("pipeline has no name")
	}

	p := New(doc.Name, nil)
	p.Environment = doc.Environment
	if doc.Agent != nil {
		p.Agent = doc.Agent.toAgent()
	}

	for _, ys := range doc.Stages {
		st := Stage{
			Name:        ys.Name,
			Environment: ys.Environment,
			Steps:       ys.Steps,
			FailFast:    ys.FailFast,
		}
		if ys.Agent != nil {
			a := ys.Agent.toAgent()
			st.Agent = &a
		}
		if ys.When != nil {
			st.When = &WhenCondition{
				Branch:   ys.When.Branch,
				EnvKey:   ys.When.EnvKey,
				EnvValue: ys.When.EnvValue,
				Not:      ys.When.Not,
			}
		}
		if ys.Timeout != "" {
			d, err := time.ParseDuration(ys.Timeout)
			if err != nil {
				return nil, fmt.Errorf("stage %q: invalid timeout %q: %w", ys.Name, ys.Timeout, err)
			}
			st.Timeout = d
		}
		for _, yp := range ys.Post {
			st.Post = append(st.Post, PostAction{
				Condition: PostCondition(yp.Condition),
				Steps:     yp.Steps,
			})
		}
		p.Stages = append(p.Stages, st)
	}

	return p, nil
}

// LoadFile reads and decodes a pipeline definition from a YAML file.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	return Parse(data)
}

func (a *yamlAgent) toAgent() Agent {
	return Agent{Type: AgentType(a.Type), Image: a.Image, Label: a.Label}
}

// yamlStepBody carries the long-form fields shared by nested variants.
type yamlStepBody struct {
	Script   string            `yaml:"script"`
	Message  string            `yaml:"message"`
	Path     string            `yaml:"path"`
	Env      []string          `yaml:"env"`
	Branches map[string][]Step `yaml:"branches"`
	Times    int               `yaml:"times"`
	Duration string            `yaml:"duration"`
	Steps    []Step            `yaml:"steps"`
	Patterns []string          `yaml:"patterns"`
	Pattern  string            `yaml:"pattern"`
	Name     string            `yaml:"name"`
	Includes []string          `yaml:"includes"`
	Excludes []string          `yaml:"excludes"`
}

// UnmarshalYAML decodes a step mapping. The first key matching a known step
// kind selects the variant; its value is either a scalar shorthand (shell,
// echo, unstash, publish_test_results, archive_artifacts) or a mapping with
// the variant's fields. Sibling keys name, timeout, and continue_on_error
// apply to any variant.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", node.Line)
	}

	var kindNode, payload *yaml.Node
	common := make(map[string]*yaml.Node)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		val := node.Content[i+1]
		if KnownKinds[StepKind(key.Value)] && kindNode == nil {
			kindNode = key
			payload = val
			continue
		}
		common[key.Value] = val
	}

	if kindNode == nil {
		return fmt.Errorf("line %d: step mapping has no recognized kind key", node.Line)
	}

	s.Kind = StepKind(kindNode.Value)
	if err := s.decodePayload(payload); err != nil {
		return fmt.Errorf("line %d: %s step: %w", kindNode.Line, s.Kind, err)
	}

	if n, ok := common["name"]; ok {
		if err := n.Decode(&s.Name); err != nil {
			return fmt.Errorf("line %d: step name: %w", n.Line, err)
		}
	}
	if n, ok := common["continue_on_error"]; ok {
		if err := n.Decode(&s.ContinueOnError); err != nil {
			return fmt.Errorf("line %d: continue_on_error: %w", n.Line, err)
		}
	}
	if n, ok := common["timeout"]; ok {
		var raw string
		if err := n.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: step timeout: %w", n.Line, err)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("line %d: invalid step timeout %q: %w", n.Line, raw, err)
		}
		s.Timeout = d
	}

	return nil
}

// decodePayload fills the variant fields from the kind key's value node.
func (s *Step) decodePayload(payload *yaml.Node) error {
	// Scalar shorthands.
	if payload.Kind == yaml.ScalarNode {
		switch s.Kind {
		case KindShell:
			s.Script = payload.Value
			return nil
		case KindEcho:
			s.Message = payload.Value
			return nil
		case KindArchiveArtifacts:
			s.Patterns = []string{payload.Value}
			return nil
		case KindPublishTestResults:
			s.Pattern = payload.Value
			return nil
		case KindStash, KindUnstash:
			s.StashName = payload.Value
			return nil
		case KindDir:
			s.Path = payload.Value
			return nil
		default:
			return fmt.Errorf("scalar form not supported for this kind")
		}
	}

	// Sequence shorthand for archive patterns.
	if payload.Kind == yaml.SequenceNode && s.Kind == KindArchiveArtifacts {
		return payload.Decode(&s.Patterns)
	}

	if payload.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping")
	}

	var body yamlStepBody
	if err := payload.Decode(&body); err != nil {
		return err
	}

	s.Script = body.Script
	s.Message = body.Message
	s.Path = body.Path
	s.Env = body.Env
	s.Branches = body.Branches
	s.Times = body.Times
	s.Steps = body.Steps
	s.Patterns = body.Patterns
	s.Pattern = body.Pattern
	s.Includes = body.Includes
	s.Excludes = body.Excludes

	switch s.Kind {
	case KindStash, KindUnstash:
		s.StashName = body.Name
	default:
		if body.Name != "" {
			s.Name = body.Name
		}
	}

	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", body.Duration, err)
		}
		s.Duration = d
	}

	return nil
}
