package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sales-forecast/core/models"
)

// DefinitionVersion is the pipeline definition schema version
const DefinitionVersion = "2020-12-01"

// Names of the steps built by the Builder
const (
	StepFeatureEngineering = "FeatureEngineering"
	StepTraining           = "Training"
	StepEvaluation         = "Evaluation"
	StepRegistration       = "Registration"
)

// EvaluationReportProperty is the property file holding the evaluation metrics
const EvaluationReportProperty = "EvaluationReport"

// StepType is the kind of work a step performs
type StepType string

const (
	StepTypeLambda        StepType = "Lambda"
	StepTypeTraining      StepType = "Training"
	StepTypeProcessing    StepType = "Processing"
	StepTypeRegisterModel StepType = "RegisterModel"
)

// Step is one node of the pipeline DAG, in definition document form
type Step struct {
	Name             string                 `json:"Name"`
	Type             StepType               `json:"Type"`
	DependsOn        []string               `json:"DependsOn,omitempty"`
	Arguments        map[string]interface{} `json:"Arguments"`
	FunctionArn      string                 `json:"FunctionArn,omitempty"`
	OutputParameters []OutputParameter      `json:"OutputParameters,omitempty"`
	PropertyFiles    []PropertyFile         `json:"PropertyFiles,omitempty"`
}

// OutputParameter declares a value returned by a Lambda step
type OutputParameter struct {
	OutputName string `json:"OutputName"`
	OutputType string `json:"OutputType"`
}

// PropertyFile exposes a JSON file written by a processing step
type PropertyFile struct {
	PropertyFileName string `json:"PropertyFileName"`
	OutputName       string `json:"OutputName"`
	FilePath         string `json:"FilePath"`
}

// Definition is a complete pipeline definition
type Definition struct {
	Name    string `json:"-"`
	RoleArn string `json:"-"`

	Version    string                 `json:"Version"`
	Metadata   map[string]interface{} `json:"Metadata"`
	Parameters []interface{}          `json:"Parameters"`
	Steps      []Step                 `json:"Steps"`
}

// Step returns the named step
func (d *Definition) Step(name string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// JSON renders the definition document
func (d *Definition) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to render pipeline definition: %w", err)
	}
	return string(data), nil
}

// ParseDefinition reads a definition document
func ParseDefinition(name, document string) (*Definition, error) {
	def := &Definition{Name: name}
	if err := json.Unmarshal([]byte(document), def); err != nil {
		return nil, models.DefinitionError("pipeline.parse", "malformed definition: "+err.Error())
	}
	return def, nil
}

// Validate checks that the steps form a DAG whose edges reference known
// steps, and that every registration step runs after a training and a
// processing step
func (d *Definition) Validate() error {
	const op = "pipeline.validate"

	if len(d.Steps) == 0 {
		return models.DefinitionError(op, "definition has no steps")
	}

	byName := make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.Name == "" {
			return models.DefinitionError(op, fmt.Sprintf("step %d has no name", i))
		}
		if _, dup := byName[step.Name]; dup {
			return models.DefinitionError(op, "duplicate step name "+step.Name)
		}
		byName[step.Name] = step
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := byName[dep]; !ok {
				return models.DefinitionError(op, fmt.Sprintf("step %s depends on unknown step %s", step.Name, dep))
			}
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return err
	}

	for _, step := range d.Steps {
		ancestors := d.Ancestors(step.Name)
		for _, ref := range stepReferences(step.Arguments) {
			if !ancestors[ref] {
				return models.DefinitionError(op, fmt.Sprintf("step %s reads properties of %s, which does not run before it", step.Name, ref))
			}
		}

		if step.Type != StepTypeRegisterModel {
			continue
		}
		var trained, evaluated bool
		for name := range ancestors {
			switch byName[name].Type {
			case StepTypeTraining:
				trained = true
			case StepTypeProcessing:
				evaluated = true
			}
		}
		if !trained || !evaluated {
			return models.DefinitionError(op, fmt.Sprintf("registration step %s must depend on training and evaluation", step.Name))
		}
	}
	return nil
}

// TopologicalOrder returns step names so that every step follows its
// dependencies. Ties keep definition order.
func (d *Definition) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(d.Steps))
	dependents := make(map[string][]string)
	for _, step := range d.Steps {
		indegree[step.Name] += 0
		for _, dep := range step.DependsOn {
			indegree[step.Name]++
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	var ready []string
	for _, step := range d.Steps {
		if indegree[step.Name] == 0 {
			ready = append(ready, step.Name)
		}
	}

	order := make([]string, 0, len(d.Steps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(d.Steps) {
		var cyclic []string
		for name, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, models.DefinitionError("pipeline.validate", "dependency cycle among steps "+strings.Join(cyclic, ", "))
	}
	return order, nil
}

// Ancestors returns every step name the named step transitively depends on
func (d *Definition) Ancestors(name string) map[string]bool {
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		step, ok := d.Step(n)
		if !ok {
			return
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(name)
	return seen
}

// get builds a property reference expression
func get(path string) map[string]interface{} {
	return map[string]interface{}{"Get": path}
}

// join builds a string concatenation expression
func join(on string, values ...interface{}) map[string]interface{} {
	return map[string]interface{}{"Std:Join": map[string]interface{}{"On": on, "Values": values}}
}

// stepReferences collects the step names referenced by Get expressions
func stepReferences(v interface{}) []string {
	var refs []string
	var walk func(interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case map[string]interface{}:
			for k, child := range t {
				if path, ok := child.(string); ok && k == "Get" {
					if rest, ok := strings.CutPrefix(path, "Steps."); ok {
						name, _, _ := strings.Cut(rest, ".")
						refs = append(refs, name)
					}
					continue
				}
				walk(child)
			}
		case []interface{}:
			for _, child := range t {
				walk(child)
			}
		case []map[string]interface{}:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(v)
	return refs
}
