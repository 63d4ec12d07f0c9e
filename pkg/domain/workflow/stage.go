package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StageKind names a stage variant.
type StageKind string

const (
	KindEmpty         StageKind = "empty"
	KindBash          StageKind = "bash"
	KindScript        StageKind = "script"
	KindVirtualScript StageKind = "virtual-script"
	KindCall          StageKind = "call"
	KindTrigger       StageKind = "trigger"
	KindParallel      StageKind = "parallel"
	KindForEach       StageKind = "foreach"
	KindUntil         StageKind = "until"
	KindCase          StageKind = "case"
	KindRaise         StageKind = "raise"
	KindDocker        StageKind = "docker"
)

// Stage is one unit of work inside a job. The variant-specific configuration
// lives behind Spec; everything else is shared by all variants.
type Stage struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
	Desc string `yaml:"desc,omitempty"`

	// Condition skips the stage when it evaluates to the literal true
	// ("if this is true, skip me").
	Condition string `yaml:"if,omitempty"`

	// Sleep is a cancellable pause in seconds applied before dispatch.
	Sleep float64 `yaml:"sleep,omitempty"`

	// Retry is the number of additional attempts after a FAILED outcome.
	Retry int `yaml:"retry,omitempty"`

	Spec StageSpec `yaml:"-"`
}

// Kind returns the variant kind of the stage.
func (s *Stage) Kind() StageKind {
	if s.Spec == nil {
		return KindEmpty
	}
	return s.Spec.Kind()
}

// Ident returns the stable identifier used for the stage's output slot.
func (s *Stage) Ident() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// Retryable reports whether the variant participates in the retry discipline.
// Nested composition variants and Raise do not.
func (s *Stage) Retryable() bool {
	switch s.Kind() {
	case KindParallel, KindForEach, KindUntil, KindCase, KindRaise:
		return false
	}
	return true
}

// StageSpec is the variant-specific configuration of a stage.
type StageSpec interface {
	Kind() StageKind
}

// EmptyStage writes its echo message to the trace and produces no outputs.
type EmptyStage struct {
	Echo string `yaml:"echo,omitempty"`
}

func (*EmptyStage) Kind() StageKind { return KindEmpty }

// BashStage runs a shell script in a subprocess.
type BashStage struct {
	Bash string            `yaml:"bash"`
	Env  map[string]string `yaml:"env,omitempty"`
}

func (*BashStage) Kind() StageKind { return KindBash }

// ScriptStage evaluates an embedded script in the sandboxed evaluator,
// pre-populating names from Vars and capturing exported names as outputs.
type ScriptStage struct {
	Run  string         `yaml:"run"`
	Vars map[string]any `yaml:"vars,omitempty"`
}

func (*ScriptStage) Kind() StageKind { return KindScript }

// VirtualScriptStage is a ScriptStage pinned to an isolated dependency
// environment.
type VirtualScriptStage struct {
	Run     string         `yaml:"run"`
	Vars    map[string]any `yaml:"vars,omitempty"`
	Version string         `yaml:"version,omitempty"`
	Deps    []string       `yaml:"deps"`
}

func (*VirtualScriptStage) Kind() StageKind { return KindVirtualScript }

// CallStage invokes a registered callable addressed as group/name@tag.
type CallStage struct {
	Uses string         `yaml:"uses"`
	Args map[string]any `yaml:"args,omitempty"`
}

func (*CallStage) Kind() StageKind { return KindCall }

// TriggerStage invokes another workflow as a child release.
type TriggerStage struct {
	Trigger string         `yaml:"trigger"`
	Params  map[string]any `yaml:"params,omitempty"`
}

func (*TriggerStage) Kind() StageKind { return KindTrigger }

// ParallelStage runs named branches of stages concurrently.
type ParallelStage struct {
	Parallel   map[string][]*Stage `yaml:"parallel"`
	Branches   []string            `yaml:"-"` // declaration order
	MaxWorkers int                 `yaml:"max_workers,omitempty" validate:"omitempty,min=1,max=20"`
}

func (*ParallelStage) Kind() StageKind { return KindParallel }

// ForEachStage iterates stages over a rendered sequence.
type ForEachStage struct {
	Foreach       any      `yaml:"foreach"`
	Stages        []*Stage `yaml:"stages"`
	Concurrent    int      `yaml:"concurrent,omitempty" validate:"omitempty,min=1,max=10"`
	UseIndexAsKey bool     `yaml:"use_index_as_key,omitempty"`
}

func (*ForEachStage) Kind() StageKind { return KindForEach }

// UntilStage loops stages until the until expression holds, bounded by MaxLoop.
type UntilStage struct {
	Item    any      `yaml:"item,omitempty"`
	Until   string   `yaml:"until"`
	Stages  []*Stage `yaml:"stages"`
	MaxLoop int      `yaml:"max_loop,omitempty" validate:"omitempty,min=1,max=100"`
}

func (*UntilStage) Kind() StageKind { return KindUntil }

// CaseMatch is one arm of a CaseStage; the case value "_" is the default.
type CaseMatch struct {
	Case   string   `yaml:"case"`
	Stages []*Stage `yaml:"stages"`
}

// CaseStage dispatches to the first match arm whose case equals the rendered
// expression's string form.
type CaseStage struct {
	Case         string      `yaml:"case"`
	Match        []CaseMatch `yaml:"match"`
	SkipNotMatch bool        `yaml:"skip_not_match,omitempty"`
}

func (*CaseStage) Kind() StageKind { return KindCase }

// RaiseStage always fails with the rendered message.
type RaiseStage struct {
	Raise string `yaml:"raise"`
}

func (*RaiseStage) Kind() StageKind { return KindRaise }

// DockerStage is reserved; parsing succeeds, execution is not implemented.
type DockerStage struct {
	Image string            `yaml:"image"`
	Tag   string            `yaml:"tag,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
}

func (*DockerStage) Kind() StageKind { return KindDocker }

// stageYAML mirrors every recognized stage field for discrimination.
type stageYAML struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Desc      string  `yaml:"desc"`
	If        string  `yaml:"if"`
	Condition string  `yaml:"condition"`
	Sleep     float64 `yaml:"sleep"`
	Retry     int     `yaml:"retry"`

	Echo          *string             `yaml:"echo"`
	Bash          *string             `yaml:"bash"`
	Env           map[string]string   `yaml:"env"`
	Run           *string             `yaml:"run"`
	Vars          map[string]any      `yaml:"vars"`
	Version       string              `yaml:"version"`
	Deps          []string            `yaml:"deps"`
	Uses          *string             `yaml:"uses"`
	Args          map[string]any      `yaml:"args"`
	With          map[string]any      `yaml:"with"`
	Trigger       *string             `yaml:"trigger"`
	Params        map[string]any      `yaml:"params"`
	Parallel      map[string][]*Stage `yaml:"parallel"`
	MaxWorkers    int                 `yaml:"max_workers"`
	Foreach       any                 `yaml:"foreach"`
	Stages        []*Stage            `yaml:"stages"`
	Concurrent    int                 `yaml:"concurrent"`
	UseIndexAsKey bool                `yaml:"use_index_as_key"`
	Item          any                 `yaml:"item"`
	Until         *string             `yaml:"until"`
	MaxLoop       int                 `yaml:"max_loop"`
	Case          *string             `yaml:"case"`
	Match         []CaseMatch         `yaml:"match"`
	SkipNotMatch  bool                `yaml:"skip_not_match"`
	Raise         *string             `yaml:"raise"`
	Image         *string             `yaml:"image"`
	Tag           string              `yaml:"tag"`
}

// UnmarshalYAML decodes a stage mapping, discriminating the variant by the
// presence of its defining field.
func (s *Stage) UnmarshalYAML(node *yaml.Node) error {
	var raw stageYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}

	s.ID = raw.ID
	s.Name = raw.Name
	s.Desc = raw.Desc
	s.Condition = raw.If
	if s.Condition == "" {
		s.Condition = raw.Condition
	}
	s.Sleep = raw.Sleep
	s.Retry = raw.Retry

	args := raw.Args
	if args == nil {
		args = raw.With
	}

	switch {
	case raw.Bash != nil:
		s.Spec = &BashStage{Bash: *raw.Bash, Env: raw.Env}
	case raw.Run != nil && len(raw.Deps) > 0:
		s.Spec = &VirtualScriptStage{Run: *raw.Run, Vars: raw.Vars, Version: raw.Version, Deps: raw.Deps}
	case raw.Run != nil:
		s.Spec = &ScriptStage{Run: *raw.Run, Vars: raw.Vars}
	case raw.Uses != nil:
		s.Spec = &CallStage{Uses: *raw.Uses, Args: args}
	case raw.Trigger != nil:
		s.Spec = &TriggerStage{Trigger: *raw.Trigger, Params: raw.Params}
	case raw.Parallel != nil:
		s.Spec = &ParallelStage{
			Parallel:   raw.Parallel,
			Branches:   mappingKeys(node, "parallel"),
			MaxWorkers: raw.MaxWorkers,
		}
	case raw.Foreach != nil:
		s.Spec = &ForEachStage{
			Foreach:       raw.Foreach,
			Stages:        raw.Stages,
			Concurrent:    raw.Concurrent,
			UseIndexAsKey: raw.UseIndexAsKey,
		}
	case raw.Until != nil:
		s.Spec = &UntilStage{Item: raw.Item, Until: *raw.Until, Stages: raw.Stages, MaxLoop: raw.MaxLoop}
	case raw.Case != nil:
		s.Spec = &CaseStage{Case: *raw.Case, Match: raw.Match, SkipNotMatch: raw.SkipNotMatch}
	case raw.Raise != nil:
		s.Spec = &RaiseStage{Raise: *raw.Raise}
	case raw.Image != nil:
		s.Spec = &DockerStage{Image: *raw.Image, Tag: raw.Tag, Env: raw.Env}
	case raw.Echo != nil:
		s.Spec = &EmptyStage{Echo: *raw.Echo}
	default:
		s.Spec = &EmptyStage{}
	}

	if s.Ident() == "" {
		return fmt.Errorf("stage at line %d needs an id or name", node.Line)
	}
	return nil
}

// MarshalYAML re-emits the common fields plus the variant configuration.
func (s *Stage) MarshalYAML() (any, error) {
	out := map[string]any{}
	if s.ID != "" {
		out["id"] = s.ID
	}
	if s.Name != "" {
		out["name"] = s.Name
	}
	if s.Condition != "" {
		out["if"] = s.Condition
	}
	if s.Sleep > 0 {
		out["sleep"] = s.Sleep
	}
	if s.Retry > 0 {
		out["retry"] = s.Retry
	}
	var variant map[string]any
	raw, err := yaml.Marshal(s.Spec)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &variant); err != nil {
		return nil, err
	}
	for k, v := range variant {
		out[k] = v
	}
	return out, nil
}

// mappingKeys returns the declaration-ordered keys of a nested mapping field.
func mappingKeys(node *yaml.Node, field string) []string {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != field {
			continue
		}
		inner := node.Content[i+1]
		keys := make([]string, 0, len(inner.Content)/2)
		for j := 0; j+1 < len(inner.Content); j += 2 {
			keys = append(keys, inner.Content[j].Value)
		}
		return keys
	}
	return nil
}

// InnerStages returns the stages a nested variant composes, keyed for walking.
func (s *Stage) InnerStages() []*Stage {
	switch spec := s.Spec.(type) {
	case *ParallelStage:
		var all []*Stage
		for _, branch := range spec.Parallel {
			all = append(all, branch...)
		}
		return all
	case *ForEachStage:
		return spec.Stages
	case *UntilStage:
		return spec.Stages
	case *CaseStage:
		var all []*Stage
		for _, m := range spec.Match {
			all = append(all, m.Stages...)
		}
		return all
	}
	return nil
}
