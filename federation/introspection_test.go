package federation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/fedgateway/testutil/fixtures"
	"github.com/BaSui01/fedgateway/types"
)

func introspect(t *testing.T, query string, vars map[string]any) map[string]any {
	t.Helper()
	sg := mustCompile(t, fixtures.Supergraph(accountsURL, productsURL))
	doc := mustParse(t, sg, query)
	p, err := sg.Plan(doc, "", vars)
	require.NoError(t, err)

	noCalls := DispatcherFunc(func(context.Context, *Step) (*types.GraphQLResponse, error) {
		t.Fatalf("introspection must not reach a subgraph")
		return nil, nil
	})
	resp := NewExecutor().Execute(context.Background(), doc, p, noCalls)
	require.Empty(t, resp.Errors)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func TestIntrospection_HidesFederationMachinery(t *testing.T) {
	out := introspect(t, `{ __schema { queryType { name } mutationType { name } types { name } directives { name } } }`, nil)

	schema := out["__schema"].(map[string]any)
	assert.Equal(t, "Query", schema["queryType"].(map[string]any)["name"])
	assert.Equal(t, "Mutation", schema["mutationType"].(map[string]any)["name"])

	var names []string
	for _, ty := range schema["types"].([]any) {
		names = append(names, ty.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "User")
	assert.Contains(t, names, "Product")
	assert.Contains(t, names, "__Schema")
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n, "join__") || strings.HasPrefix(n, "link__"), n)
	}

	var dirs []string
	for _, d := range schema["directives"].([]any) {
		dirs = append(dirs, d.(map[string]any)["name"].(string))
	}
	assert.Contains(t, dirs, "skip")
	assert.Contains(t, dirs, "deprecated")
	assert.NotContains(t, dirs, "join__field")
	assert.NotContains(t, dirs, "link")
}

func TestIntrospection_TypeDetails(t *testing.T) {
	out := introspect(t, `query($name: String!) {
		__type(name: $name) {
			kind name description
			fields(includeDeprecated: true) { name isDeprecated deprecationReason type { kind ofType { name } } }
		}
	}`, map[string]any{"name": "User"})

	ty := out["__type"].(map[string]any)
	assert.Equal(t, "OBJECT", ty["kind"])
	assert.Equal(t, "User", ty["name"])
	assert.Equal(t, "A registered user", ty["description"])

	fields := ty["fields"].([]any)
	require.Len(t, fields, 3)
	id := fields[0].(map[string]any)
	assert.Equal(t, "id", id["name"])
	assert.Equal(t, "NON_NULL", id["type"].(map[string]any)["kind"])
	assert.Equal(t, "ID", id["type"].(map[string]any)["ofType"].(map[string]any)["name"])

	username := fields[2].(map[string]any)
	assert.Equal(t, true, username["isDeprecated"])
	assert.Equal(t, "use name", username["deprecationReason"])
}

func TestIntrospection_DeprecatedHiddenByDefault(t *testing.T) {
	out := introspect(t, `{ __type(name: "User") { fields { name } } }`, nil)
	fields := out["__type"].(map[string]any)["fields"].([]any)
	assert.Len(t, fields, 2)
}

func TestIntrospection_HiddenTypeIsNull(t *testing.T) {
	out := introspect(t, `{ __type(name: "join__Graph") { name } }`, nil)
	assert.Nil(t, out["__type"])
}

func TestIntrospection_FragmentsAndTypename(t *testing.T) {
	out := introspect(t, `
		{ __schema { queryType { ...T } } }
		fragment T on __Type { __typename name }
	`, nil)
	qt := out["__schema"].(map[string]any)["queryType"].(map[string]any)
	assert.Equal(t, "__Type", qt["__typename"])
	assert.Equal(t, "Query", qt["name"])
}
