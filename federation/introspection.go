package federation

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Names of federation machinery that the public API schema never shows.
var hiddenPrefixes = []string{"join__", "link__", "core__"}

var hiddenDirectives = map[string]bool{
	"link":         true,
	"core":         true,
	"inaccessible": true,
	"tag":          true,
}

func isHiddenType(name string) bool {
	for _, p := range hiddenPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isHiddenDirective(name string) bool {
	return hiddenDirectives[name] || isHiddenType(name)
}

func inaccessible(dirs ast.DirectiveList) bool {
	return dirs.ForName("inaccessible") != nil
}

// introspector answers __schema and __type from the supergraph schema.
type introspector struct {
	schema *ast.Schema
	doc    *ast.QueryDocument
	vars   map[string]any
}

// resolveLocal answers a root field that never leaves the gateway.
func (p *Plan) resolveLocal(doc *ast.QueryDocument, rf *RootField) any {
	in := &introspector{schema: p.supergraph.Schema, doc: doc, vars: p.Variables}
	switch rf.Field.Name {
	case "__typename":
		return p.RootType
	case "__schema":
		return in.schemaObject(rf.Field.SelectionSet)
	case "__type":
		name, _ := argumentMap(rf.Field, p.Variables)["name"].(string)
		def := in.schema.Types[name]
		if def == nil || !in.visible(def) {
			return nil
		}
		return in.typeObject(typeRef{def: def}, rf.Field.SelectionSet)
	}
	return nil
}

func (in *introspector) visible(def *ast.Definition) bool {
	return !isHiddenType(def.Name) && !inaccessible(def.Directives)
}

// fields flattens a selection set for an introspection object type.
func (in *introspector) fields(set ast.SelectionSet, typeName string) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if ok, _ := included(s.Directives, in.vars); ok {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			if s.TypeCondition != "" && s.TypeCondition != typeName {
				continue
			}
			if ok, _ := included(s.Directives, in.vars); ok {
				out = append(out, in.fields(s.SelectionSet, typeName)...)
			}
		case *ast.FragmentSpread:
			def := s.Definition
			if def == nil && in.doc != nil {
				def = in.doc.Fragments.ForName(s.Name)
			}
			if def == nil || (def.TypeCondition != "" && def.TypeCondition != typeName) {
				continue
			}
			if ok, _ := included(s.Directives, in.vars); ok {
				out = append(out, in.fields(def.SelectionSet, typeName)...)
			}
		}
	}
	return out
}

func (in *introspector) object(set ast.SelectionSet, typeName string, resolve func(f *ast.Field) any) Object {
	var obj Object
	for _, f := range in.fields(set, typeName) {
		if f.Name == "__typename" {
			obj.Set(f.Alias, typeName)
			continue
		}
		obj.Set(f.Alias, resolve(f))
	}
	return obj
}

func (in *introspector) schemaObject(set ast.SelectionSet) Object {
	return in.object(set, "__Schema", func(f *ast.Field) any {
		switch f.Name {
		case "description":
			return optional(in.schema.Description)
		case "types":
			names := make([]string, 0, len(in.schema.Types))
			for name, def := range in.schema.Types {
				if in.visible(def) {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			out := make([]any, 0, len(names))
			for _, name := range names {
				out = append(out, in.typeObject(typeRef{def: in.schema.Types[name]}, f.SelectionSet))
			}
			return out
		case "queryType":
			return in.rootType(in.schema.Query, f.SelectionSet)
		case "mutationType":
			return in.rootType(in.schema.Mutation, f.SelectionSet)
		case "subscriptionType":
			return in.rootType(in.schema.Subscription, f.SelectionSet)
		case "directives":
			names := make([]string, 0, len(in.schema.Directives))
			for name := range in.schema.Directives {
				if !isHiddenDirective(name) {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			out := make([]any, 0, len(names))
			for _, name := range names {
				out = append(out, in.directiveObject(in.schema.Directives[name], f.SelectionSet))
			}
			return out
		}
		return nil
	})
}

func (in *introspector) rootType(def *ast.Definition, set ast.SelectionSet) any {
	if def == nil {
		return nil
	}
	return in.typeObject(typeRef{def: def}, set)
}

// typeRef is either a named definition or a LIST / NON_NULL wrapper.
type typeRef struct {
	def  *ast.Definition
	wrap *ast.Type
}

func (in *introspector) refFor(t *ast.Type) typeRef {
	if t.NonNull || t.Elem != nil {
		return typeRef{wrap: t}
	}
	return typeRef{def: in.schema.Types[t.NamedType]}
}

func (in *introspector) typeObject(ref typeRef, set ast.SelectionSet) any {
	if ref.def == nil && ref.wrap == nil {
		return nil
	}
	return in.object(set, "__Type", func(f *ast.Field) any {
		if ref.wrap != nil {
			return in.wrapperField(ref.wrap, f)
		}
		return in.namedField(ref.def, f)
	})
}

func (in *introspector) wrapperField(t *ast.Type, f *ast.Field) any {
	switch f.Name {
	case "kind":
		if t.NonNull {
			return "NON_NULL"
		}
		return "LIST"
	case "ofType":
		if t.NonNull {
			inner := *t
			inner.NonNull = false
			return in.typeObject(in.refFor(&inner), f.SelectionSet)
		}
		return in.typeObject(in.refFor(t.Elem), f.SelectionSet)
	case "fields", "interfaces", "possibleTypes", "enumValues", "inputFields":
		return nil
	}
	return nil
}

func (in *introspector) namedField(def *ast.Definition, f *ast.Field) any {
	args := argumentMap(f, in.vars)
	includeDeprecated, _ := args["includeDeprecated"].(bool)

	switch f.Name {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return optional(def.Description)
	case "specifiedByURL":
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			return optional(stringArg(d, "url"))
		}
		return nil
	case "isOneOf":
		if def.Kind != ast.InputObject {
			return nil
		}
		return def.Directives.ForName("oneOf") != nil
	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []any{}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") || inaccessible(fd.Directives) {
				continue
			}
			if !includeDeprecated && fd.Directives.ForName("deprecated") != nil {
				continue
			}
			out = append(out, in.fieldObject(fd, f.SelectionSet))
		}
		return out
	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []any{}
		for _, name := range def.Interfaces {
			if iface := in.schema.Types[name]; iface != nil && in.visible(iface) {
				out = append(out, in.typeObject(typeRef{def: iface}, f.SelectionSet))
			}
		}
		return out
	case "possibleTypes":
		if def.Kind != ast.Interface && def.Kind != ast.Union {
			return nil
		}
		out := []any{}
		for _, pt := range in.schema.GetPossibleTypes(def) {
			if in.visible(pt) {
				out = append(out, in.typeObject(typeRef{def: pt}, f.SelectionSet))
			}
		}
		return out
	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		out := []any{}
		for _, ev := range def.EnumValues {
			if inaccessible(ev.Directives) {
				continue
			}
			if !includeDeprecated && ev.Directives.ForName("deprecated") != nil {
				continue
			}
			out = append(out, in.enumValueObject(ev, f.SelectionSet))
		}
		return out
	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		out := []any{}
		for _, fd := range def.Fields {
			if inaccessible(fd.Directives) {
				continue
			}
			out = append(out, in.inputValueObject(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives, f.SelectionSet))
		}
		return out
	case "ofType":
		return nil
	}
	return nil
}

func (in *introspector) fieldObject(fd *ast.FieldDefinition, set ast.SelectionSet) any {
	return in.object(set, "__Field", func(f *ast.Field) any {
		switch f.Name {
		case "name":
			return fd.Name
		case "description":
			return optional(fd.Description)
		case "args":
			out := []any{}
			for _, a := range fd.Arguments {
				out = append(out, in.inputValueObject(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives, f.SelectionSet))
			}
			return out
		case "type":
			return in.typeObject(in.refFor(fd.Type), f.SelectionSet)
		case "isDeprecated":
			return fd.Directives.ForName("deprecated") != nil
		case "deprecationReason":
			return deprecationReason(fd.Directives)
		}
		return nil
	})
}

func (in *introspector) inputValueObject(name, description string, t *ast.Type, def *ast.Value, dirs ast.DirectiveList, set ast.SelectionSet) any {
	return in.object(set, "__InputValue", func(f *ast.Field) any {
		switch f.Name {
		case "name":
			return name
		case "description":
			return optional(description)
		case "type":
			return in.typeObject(in.refFor(t), f.SelectionSet)
		case "defaultValue":
			if def == nil {
				return nil
			}
			return def.String()
		case "isDeprecated":
			return dirs.ForName("deprecated") != nil
		case "deprecationReason":
			return deprecationReason(dirs)
		}
		return nil
	})
}

func (in *introspector) enumValueObject(ev *ast.EnumValueDefinition, set ast.SelectionSet) any {
	return in.object(set, "__EnumValue", func(f *ast.Field) any {
		switch f.Name {
		case "name":
			return ev.Name
		case "description":
			return optional(ev.Description)
		case "isDeprecated":
			return ev.Directives.ForName("deprecated") != nil
		case "deprecationReason":
			return deprecationReason(ev.Directives)
		}
		return nil
	})
}

func (in *introspector) directiveObject(d *ast.DirectiveDefinition, set ast.SelectionSet) any {
	return in.object(set, "__Directive", func(f *ast.Field) any {
		switch f.Name {
		case "name":
			return d.Name
		case "description":
			return optional(d.Description)
		case "locations":
			out := make([]string, 0, len(d.Locations))
			for _, l := range d.Locations {
				out = append(out, string(l))
			}
			return out
		case "args":
			out := []any{}
			for _, a := range d.Arguments {
				out = append(out, in.inputValueObject(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives, f.SelectionSet))
			}
			return out
		case "isRepeatable":
			return d.IsRepeatable
		}
		return nil
	})
}

func deprecationReason(dirs ast.DirectiveList) any {
	d := dirs.ForName("deprecated")
	if d == nil {
		return nil
	}
	if reason := stringArg(d, "reason"); reason != "" {
		return reason
	}
	return "No longer supported"
}

func argumentMap(f *ast.Field, vars map[string]any) map[string]any {
	if f.Definition != nil {
		return f.ArgumentMap(vars)
	}
	out := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		if v, err := a.Value.Value(vars); err == nil {
			out[a.Name] = v
		}
	}
	return out
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
