// Package fixtures 提供测试用 supergraph 文档。
package fixtures

import "fmt"

// machinery 是 join/link 规范要求声明的指令与类型
const machinery = `
directive @join__enumValue(graph: join__Graph!) repeatable on ENUM_VALUE
directive @join__field(graph: join__Graph, requires: join__FieldSet, provides: join__FieldSet, type: String, external: Boolean, override: String, usedOverridden: Boolean) repeatable on FIELD_DEFINITION | INPUT_FIELD_DEFINITION
directive @join__graph(name: String!, url: String!) on ENUM_VALUE
directive @join__implements(graph: join__Graph!, interface: String!) repeatable on OBJECT | INTERFACE
directive @join__type(graph: join__Graph!, key: join__FieldSet, extension: Boolean! = false, resolvable: Boolean! = true, isInterfaceObject: Boolean! = false) repeatable on OBJECT | INTERFACE | UNION | ENUM | INPUT_OBJECT | SCALAR
directive @link(url: String, as: String, for: link__Purpose, import: [link__Import]) repeatable on SCHEMA

scalar join__FieldSet
scalar link__Import

enum link__Purpose {
  SECURITY
  EXECUTION
}
`

// Supergraph 返回 accounts + products 双子图的 supergraph
func Supergraph(accountsURL, productsURL string) string {
	return fmt.Sprintf(`schema
  @link(url: "https://specs.apollo.dev/link/v1.0")
  @link(url: "https://specs.apollo.dev/join/v0.3", for: EXECUTION)
{
  query: Query
  mutation: Mutation
}
%s
enum join__Graph {
  ACCOUNTS @join__graph(name: "accounts", url: %q)
  PRODUCTS @join__graph(name: "products", url: %q)
}

type Query
  @join__type(graph: ACCOUNTS)
  @join__type(graph: PRODUCTS)
{
  me: User @join__field(graph: ACCOUNTS)
  user(id: ID!): User @join__field(graph: ACCOUNTS)
  topProducts(first: Int = 5): [Product!]! @join__field(graph: PRODUCTS)
  product(upc: String!): Product @join__field(graph: PRODUCTS)
}

type Mutation
  @join__type(graph: ACCOUNTS)
  @join__type(graph: PRODUCTS)
{
  login(username: String!): User @join__field(graph: ACCOUNTS)
  createProduct(name: String!): Product @join__field(graph: PRODUCTS)
}

"A registered user"
type User @join__type(graph: ACCOUNTS, key: "id") {
  id: ID!
  name: String
  username: String @deprecated(reason: "use name")
}

type Product @join__type(graph: PRODUCTS, key: "upc") {
  upc: String!
  name: String
  price: Int
}
`, machinery, accountsURL, productsURL)
}

// SupergraphWithField 在 Query 上追加一个 accounts 字段，用于区分版本
func SupergraphWithField(accountsURL, productsURL, field string) string {
	return Supergraph(accountsURL, productsURL) + fmt.Sprintf(`
extend type Query {
  %s: String @join__field(graph: ACCOUNTS)
}
`, field)
}

// SingleGraph 返回只有一个子图且根字段未标注 join__field 的 supergraph
func SingleGraph(url string) string {
	return fmt.Sprintf(`schema { query: Query }
%s
enum join__Graph {
  MONO @join__graph(name: "mono", url: %q)
}

type Query {
  hello: String
}
`, machinery, url)
}

// 非法文档
const (
	// NotGraphQL 无法解析
	NotGraphQL = "type Query { hello: String"
	// NoGraphEnum 缺少 join__Graph
	NoGraphEnum = "type Query { hello: String }"
)

// BadURL 返回子图地址非法的 supergraph
func BadURL() string {
	return SingleGraph("not a url")
}
