package federation

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/BaSui01/fedgateway/types"
)

// Plan is the routing of one operation onto subgraph steps.
type Plan struct {
	Operation *ast.OperationDefinition
	// RootType is the name of the root object type the operation selects from.
	RootType string
	// Fields lists the root response keys in selection order.
	Fields []*RootField
	// Steps are the subgraph fetches. Mutation steps must run in order.
	Steps []*Step
	// Variables are the coerced operation variables.
	Variables map[string]any

	supergraph *Supergraph
}

// RootField is one response key of the root selection set.
type RootField struct {
	Key     string
	Field   *ast.Field
	NonNull bool
	// Local fields (__typename, introspection) are answered by the gateway.
	Local bool
	Step  *Step
}

// Step is one sub-operation sent to a single subgraph.
type Step struct {
	Index         int
	Subgraph      *Subgraph
	Operation     ast.Operation
	OperationName string
	Query         string
	Variables     map[string]any
	// Keys are the root response keys this step fills.
	Keys []string

	selections ast.SelectionSet
}

// Sequential reports whether steps must run one after another.
func (p *Plan) Sequential() bool {
	return p.Operation.Operation == ast.Mutation
}

// HasIntrospection reports whether the operation selects __schema or __type.
func (p *Plan) HasIntrospection() bool {
	for _, rf := range p.Fields {
		if rf.Local && (rf.Field.Name == "__schema" || rf.Field.Name == "__type") {
			return true
		}
	}
	return false
}

// SelectOperation picks the operation to run from a document.
func SelectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if operationName == "" {
		switch len(doc.Operations) {
		case 0:
			return nil, types.NewError(types.ErrOperationResolution, "document contains no operations")
		case 1:
			return doc.Operations[0], nil
		default:
			return nil, types.NewError(types.ErrOperationResolution,
				"must provide operation name if query contains multiple operations")
		}
	}
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return nil, types.NewError(types.ErrOperationResolution,
			fmt.Sprintf("unknown operation named %q", operationName))
	}
	return op, nil
}

// Plan routes a validated document onto subgraph steps.
func (sg *Supergraph) Plan(doc *ast.QueryDocument, operationName string, variables map[string]any) (*Plan, error) {
	op, err := SelectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	var root *ast.Definition
	switch op.Operation {
	case ast.Query, "":
		root = sg.Schema.Query
	case ast.Mutation:
		root = sg.Schema.Mutation
	default:
		return nil, types.NewError(types.ErrOperationResolution,
			fmt.Sprintf("%s operations are not supported", op.Operation))
	}
	if root == nil {
		return nil, types.NewError(types.ErrOperationResolution,
			fmt.Sprintf("schema does not support %s operations", op.Operation))
	}

	vars, err := validator.VariableValues(sg.Schema, op, variables)
	if err != nil {
		return nil, types.NewError(types.ErrValidationFailed, err.Error()).WithCause(err)
	}

	p := &Plan{
		Operation:  op,
		RootType:   root.Name,
		Variables:  vars,
		supergraph: sg,
	}

	opType := op.Operation
	if opType == "" {
		opType = ast.Query
	}

	fields, err := collectRootFields(doc, op.SelectionSet, vars)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*RootField)
	stepBySubgraph := make(map[string]*Step)
	var last *Step

	for _, f := range fields {
		rf, seen := byKey[f.Alias]
		if !seen {
			rf = &RootField{Key: f.Alias, Field: f}
			if def := root.Fields.ForName(f.Name); def != nil && def.Type != nil {
				rf.NonNull = def.Type.NonNull
			}
			byKey[f.Alias] = rf
			p.Fields = append(p.Fields, rf)
		}

		if isLocalField(f.Name) {
			rf.Local = true
			continue
		}

		owner, ok := sg.Owner(opType, f.Name)
		if !ok {
			return nil, types.NewError(types.ErrOperationResolution,
				fmt.Sprintf("no subgraph serves %s.%s", root.Name, f.Name))
		}

		var step *Step
		if rf.Step != nil {
			step = rf.Step
		} else if opType == ast.Mutation {
			// consecutive fields of one subgraph share a step; order is preserved
			if last != nil && last.Subgraph == owner {
				step = last
			}
		} else {
			step = stepBySubgraph[owner.Name]
		}
		if step == nil {
			step = &Step{Index: len(p.Steps), Subgraph: owner, Operation: opType}
			p.Steps = append(p.Steps, step)
			stepBySubgraph[owner.Name] = step
		}
		step.selections = append(step.selections, f)
		// 重复的响应键并入原 step，只有首次出现的键推进 last
		if rf.Step == nil {
			rf.Step = step
			step.Keys = append(step.Keys, rf.Key)
			last = step
		}
	}

	for _, step := range p.Steps {
		if err := sg.printStep(doc, op, step, vars); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func isLocalField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

// collectRootFields flattens root level fragments and drops skipped fields.
func collectRootFields(doc *ast.QueryDocument, set ast.SelectionSet, vars map[string]any) ([]*ast.Field, error) {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			ok, err := included(s.Directives, vars)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			ok, err := included(s.Directives, vars)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			nested, err := collectRootFields(doc, s.SelectionSet, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case *ast.FragmentSpread:
			ok, err := included(s.Directives, vars)
			if err != nil {
				return nil, err
			}
			def := s.Definition
			if def == nil {
				def = doc.Fragments.ForName(s.Name)
			}
			if !ok || def == nil {
				continue
			}
			nested, err := collectRootFields(doc, def.SelectionSet, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

func included(dirs ast.DirectiveList, vars map[string]any) (bool, error) {
	if d := dirs.ForName("skip"); d != nil {
		v, err := directiveIf(d, vars)
		if err != nil || v {
			return false, err
		}
	}
	if d := dirs.ForName("include"); d != nil {
		v, err := directiveIf(d, vars)
		if err != nil || !v {
			return false, err
		}
	}
	return true, nil
}

func directiveIf(d *ast.Directive, vars map[string]any) (bool, error) {
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil {
		return false, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("@%s requires an if argument", d.Name))
	}
	v, err := arg.Value.Value(vars)
	if err != nil {
		return false, types.NewError(types.ErrValidationFailed, err.Error()).WithCause(err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("@%s(if:) must be a boolean", d.Name))
	}
	return b, nil
}

// printStep renders the step's sub-operation with only the variables and
// fragments it uses.
func (sg *Supergraph) printStep(doc *ast.QueryDocument, op *ast.OperationDefinition, step *Step, vars map[string]any) error {
	u := &usage{
		doc:       doc,
		variables: make(map[string]bool),
		fragments: make(map[string]bool),
	}
	u.walkSelections(step.selections)

	sub := &ast.OperationDefinition{
		Operation:    step.Operation,
		SelectionSet: step.selections,
	}
	if op.Name != "" {
		sub.Name = fmt.Sprintf("%s__%s__%d", op.Name, step.Subgraph.Name, step.Index)
		step.OperationName = sub.Name
	}

	step.Variables = make(map[string]any)
	for _, vd := range op.VariableDefinitions {
		if !u.variables[vd.Variable] {
			continue
		}
		sub.VariableDefinitions = append(sub.VariableDefinitions, vd)
		if v, ok := vars[vd.Variable]; ok {
			step.Variables[vd.Variable] = v
		}
	}

	out := &ast.QueryDocument{Operations: ast.OperationList{sub}}
	for _, fd := range doc.Fragments {
		if u.fragments[fd.Name] {
			out.Fragments = append(out.Fragments, fd)
		}
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(out)
	step.Query = buf.String()
	if step.Query == "" {
		return types.NewError(types.ErrInternalError,
			fmt.Sprintf("empty sub-operation for subgraph %s", step.Subgraph.Name))
	}
	return nil
}

type usage struct {
	doc       *ast.QueryDocument
	variables map[string]bool
	fragments map[string]bool
}

func (u *usage) walkSelections(set ast.SelectionSet) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			for _, a := range s.Arguments {
				u.walkValue(a.Value)
			}
			u.walkDirectives(s.Directives)
			u.walkSelections(s.SelectionSet)
		case *ast.InlineFragment:
			u.walkDirectives(s.Directives)
			u.walkSelections(s.SelectionSet)
		case *ast.FragmentSpread:
			u.walkDirectives(s.Directives)
			if u.fragments[s.Name] {
				continue
			}
			u.fragments[s.Name] = true
			if fd := u.doc.Fragments.ForName(s.Name); fd != nil {
				u.walkDirectives(fd.Directives)
				u.walkSelections(fd.SelectionSet)
			}
		}
	}
}

func (u *usage) walkDirectives(dirs ast.DirectiveList) {
	for _, d := range dirs {
		for _, a := range d.Arguments {
			u.walkValue(a.Value)
		}
	}
}

func (u *usage) walkValue(v *ast.Value) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		u.variables[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		u.walkValue(c.Value)
	}
}
