package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/fedgateway/federation"
	"github.com/BaSui01/fedgateway/testutil/fixtures"
	"github.com/BaSui01/fedgateway/types"
)

func TestHealthGate_AcceptsValidSupergraph(t *testing.T) {
	gate := NewHealthGate()
	doc := NewDocument(fixtures.Supergraph(accountsURL, productsURL), "test").withVersion(3)

	snap, err := gate.Check(context.Background(), doc)
	require.NoError(t, err)
	assert.Same(t, doc, snap.Document)
	require.NotNil(t, snap.Supergraph)
	assert.Len(t, snap.Supergraph.Subgraphs(), 2)
}

func TestHealthGate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
	}{
		{"parse error", fixtures.NotGraphQL},
		{"no join__Graph", fixtures.NoGraphEnum},
		{"bad subgraph url", fixtures.BadURL()},
	}

	gate := NewHealthGate()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument(tt.sdl, "test").withVersion(5)
			snap, err := gate.Check(context.Background(), doc)
			require.Error(t, err)
			assert.Nil(t, snap)

			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, uint64(5), rejected.Version)
			assert.Equal(t, doc.Checksum, rejected.Checksum)
			assert.NotEmpty(t, rejected.Reason)
			assert.True(t, types.IsErrorCode(err, types.ErrSchemaInvalid))
		})
	}
}

func TestHealthGate_CustomCheck(t *testing.T) {
	boom := errors.New("products must not be exposed")
	gate := NewHealthGate(WithCheck("no-products", func(_ context.Context, sg *federation.Supergraph) error {
		if _, ok := sg.Subgraph("products"); ok {
			return boom
		}
		return nil
	}))

	_, err := gate.Check(context.Background(), NewDocument(fixtures.Supergraph(accountsURL, productsURL), "t"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "no-products")

	_, err = gate.Check(context.Background(), NewDocument(fixtures.SingleGraph(accountsURL), "t"))
	assert.NoError(t, err)
}

func TestHealthGate_ServiceURLOverride(t *testing.T) {
	gate := NewHealthGate(WithCompileOptions(federation.WithServiceURLs(map[string]string{
		"accounts": "http://localhost:9001/graphql",
	})))

	snap, err := gate.Check(context.Background(), NewDocument(fixtures.Supergraph(accountsURL, productsURL), "t"))
	require.NoError(t, err)
	accounts, ok := snap.Supergraph.Subgraph("accounts")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9001/graphql", accounts.URL)
}

func TestHealthGate_CancelledBeforeChecks(t *testing.T) {
	called := false
	gate := NewHealthGate(WithCheck("never", func(context.Context, *federation.Supergraph) error {
		called = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gate.Check(ctx, NewDocument(fixtures.Supergraph(accountsURL, productsURL), "t"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
