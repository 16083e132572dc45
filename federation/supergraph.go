package federation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/BaSui01/fedgateway/types"
)

const (
	graphEnumName      = "join__Graph"
	graphDirectiveName = "join__graph"
	fieldDirectiveName = "join__field"
	typeDirectiveName  = "join__type"
	ownerDirectiveName = "join__owner"
)

// Subgraph is one backend service declared by the supergraph.
type Subgraph struct {
	// Name is the service name from @join__graph(name:).
	Name string
	// URL is the routing URL, possibly overridden by configuration.
	URL string
	// EnumValue is the join__Graph value the directives refer to.
	EnumValue string
}

// Supergraph is a compiled supergraph document ready for planning.
type Supergraph struct {
	Schema *ast.Schema

	subgraphs []*Subgraph
	byEnum    map[string]*Subgraph
	byName    map[string]*Subgraph
	owners    map[ast.Operation]map[string]*Subgraph
}

// CompileOption customizes Compile.
type CompileOption func(*compileOptions)

type compileOptions struct {
	sourceName string
	overrides  map[string]string
}

// WithServiceURLs overrides routing URLs keyed by subgraph name or join__Graph value.
func WithServiceURLs(urls map[string]string) CompileOption {
	return func(o *compileOptions) {
		for k, v := range urls {
			o.overrides[strings.ToLower(k)] = v
		}
	}
}

// WithSourceName sets the name reported in parse error positions.
func WithSourceName(name string) CompileOption {
	return func(o *compileOptions) {
		if name != "" {
			o.sourceName = name
		}
	}
}

// Compile parses and validates a supergraph SDL and resolves root field ownership.
func Compile(sdl string, opts ...CompileOption) (*Supergraph, error) {
	o := &compileOptions{sourceName: "supergraph.graphql", overrides: map[string]string{}}
	for _, opt := range opts {
		opt(o)
	}

	if strings.TrimSpace(sdl) == "" {
		return nil, types.NewError(types.ErrSchemaInvalid, "supergraph document is empty")
	}

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: o.sourceName, Input: sdl})
	if err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "supergraph does not parse").WithCause(err)
	}

	sg := &Supergraph{
		Schema: schema,
		byEnum: make(map[string]*Subgraph),
		byName: make(map[string]*Subgraph),
		owners: make(map[ast.Operation]map[string]*Subgraph),
	}
	if err := sg.loadSubgraphs(o.overrides); err != nil {
		return nil, err
	}
	if schema.Query == nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "supergraph has no query type")
	}
	if err := sg.resolveOwners(ast.Query, schema.Query); err != nil {
		return nil, err
	}
	if schema.Mutation != nil {
		if err := sg.resolveOwners(ast.Mutation, schema.Mutation); err != nil {
			return nil, err
		}
	}
	return sg, nil
}

func (sg *Supergraph) loadSubgraphs(overrides map[string]string) error {
	def := sg.Schema.Types[graphEnumName]
	if def == nil || def.Kind != ast.Enum {
		return types.NewError(types.ErrSchemaInvalid, "supergraph has no join__Graph enum")
	}

	for _, ev := range def.EnumValues {
		d := ev.Directives.ForName(graphDirectiveName)
		if d == nil {
			return types.NewError(types.ErrSchemaInvalid,
				fmt.Sprintf("join__Graph value %s has no @join__graph directive", ev.Name))
		}
		name := stringArg(d, "name")
		if name == "" {
			name = strings.ToLower(ev.Name)
		}
		rawURL := stringArg(d, "url")
		if o, ok := overrides[strings.ToLower(name)]; ok {
			rawURL = o
		} else if o, ok := overrides[strings.ToLower(ev.Name)]; ok {
			rawURL = o
		}
		if err := checkURL(rawURL); err != nil {
			return types.NewError(types.ErrSchemaInvalid,
				fmt.Sprintf("subgraph %s has invalid url %q", name, rawURL)).WithCause(err)
		}
		if _, dup := sg.byName[name]; dup {
			return types.NewError(types.ErrSchemaInvalid, fmt.Sprintf("subgraph %s declared twice", name))
		}

		s := &Subgraph{Name: name, URL: rawURL, EnumValue: ev.Name}
		sg.subgraphs = append(sg.subgraphs, s)
		sg.byEnum[ev.Name] = s
		sg.byName[name] = s
	}

	if len(sg.subgraphs) == 0 {
		return types.NewError(types.ErrSchemaInvalid, "join__Graph declares no subgraphs")
	}
	return nil
}

// resolveOwners maps every root field to the subgraph that serves it. Shared root
// fields go to the first graph listed.
func (sg *Supergraph) resolveOwners(op ast.Operation, def *ast.Definition) error {
	owners := make(map[string]*Subgraph, len(def.Fields))

	var typeGraphs []string
	for _, d := range def.Directives.ForNames(typeDirectiveName) {
		typeGraphs = append(typeGraphs, enumArg(d, "graph"))
	}
	if d := def.Directives.ForName(ownerDirectiveName); d != nil {
		typeGraphs = append([]string{enumArg(d, "graph")}, typeGraphs...)
	}

	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}

		var candidates []string
		for _, d := range f.Directives.ForNames(fieldDirectiveName) {
			if boolArg(d, "external") {
				continue
			}
			if g := enumArg(d, "graph"); g != "" {
				candidates = append(candidates, g)
			}
		}
		if len(candidates) == 0 {
			candidates = typeGraphs
		}
		if len(candidates) == 0 && len(sg.subgraphs) == 1 {
			candidates = []string{sg.subgraphs[0].EnumValue}
		}
		if len(candidates) == 0 {
			return types.NewError(types.ErrSchemaInvalid,
				fmt.Sprintf("root field %s.%s has no owning subgraph", def.Name, f.Name))
		}

		owner, ok := sg.byEnum[candidates[0]]
		if !ok {
			return types.NewError(types.ErrSchemaInvalid,
				fmt.Sprintf("root field %s.%s refers to unknown graph %s", def.Name, f.Name, candidates[0]))
		}
		owners[f.Name] = owner
	}

	sg.owners[op] = owners
	return nil
}

// Subgraphs returns the declared subgraphs in declaration order.
func (sg *Supergraph) Subgraphs() []*Subgraph {
	out := make([]*Subgraph, len(sg.subgraphs))
	copy(out, sg.subgraphs)
	return out
}

// Subgraph looks up a subgraph by service name.
func (sg *Supergraph) Subgraph(name string) (*Subgraph, bool) {
	s, ok := sg.byName[name]
	return s, ok
}

// Owner returns the subgraph serving a root field.
func (sg *Supergraph) Owner(op ast.Operation, field string) (*Subgraph, bool) {
	s, ok := sg.owners[op][field]
	return s, ok
}

// RootFields lists the routable root fields of an operation type, sorted.
func (sg *Supergraph) RootFields(op ast.Operation) []string {
	out := make([]string, 0, len(sg.owners[op]))
	for name := range sg.owners[op] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func stringArg(d *ast.Directive, name string) string {
	if a := d.Arguments.ForName(name); a != nil && a.Value != nil {
		return a.Value.Raw
	}
	return ""
}

func enumArg(d *ast.Directive, name string) string {
	return stringArg(d, name)
}

func boolArg(d *ast.Directive, name string) bool {
	if a := d.Arguments.ForName(name); a != nil && a.Value != nil {
		return a.Value.Kind == ast.BooleanValue && a.Value.Raw == "true"
	}
	return false
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
