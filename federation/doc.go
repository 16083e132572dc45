// Package federation routes GraphQL operations across the subgraphs of a
// supergraph.
//
// Compile reads the join__* directives of a composed supergraph to learn the
// subgraphs and which one serves each root field. Plan splits an operation
// into one sub-operation per subgraph, and Executor dispatches them and merges
// the results. Entity resolution across subgraphs is not performed: every root
// field is answered entirely by its owning subgraph.
package federation
