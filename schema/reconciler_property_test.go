package schema

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"pgregory.net/rapid"

	"github.com/BaSui01/fedgateway/testutil/fixtures"
)

var invalidSDLs = []string{fixtures.NotGraphQL, fixtures.NoGraphEnum, fixtures.BadURL()}

// 有效替换按顺序可见：每次成功重载后版本严格递增且内容为最新推送
func TestProperty_MonotonicVisibility(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		src := newMemSource(validSDL("f0"))
		r := NewReconciler(NewCore(), src, nil)
		_, err := r.Bootstrap(context.Background())
		require.NoError(rt, err)
		require.NoError(rt, r.Start(context.Background()))
		defer func() { _ = r.Stop() }()

		pushes := rapid.SliceOfN(rapid.Bool(), 1, 12).Draw(rt, "pushes")
		last := r.Core().Current()
		for i, valid := range pushes {
			field := fmt.Sprintf("f%d", i+1)
			if valid {
				src.Set(validSDL(field))
			} else {
				src.Set(invalidSDLs[rapid.IntRange(0, len(invalidSDLs)-1).Draw(rt, "invalid")])
			}
			_, _ = r.Reload(context.Background())

			cur := r.Core().Current()
			require.NotNil(rt, cur)
			if valid {
				if cur.Version() <= last.Version() {
					rt.Fatalf("version went from %d to %d", last.Version(), cur.Version())
				}
				if _, ok := cur.Supergraph.Owner(ast.Query, field); !ok {
					rt.Fatalf("active schema does not contain latest push %s", field)
				}
			} else if cur != last {
				rt.Fatalf("rejected push changed the active schema")
			}
			last = cur
		}
	})
}

// 任意次数的无效推送都不会改变 Current()
func TestProperty_RejectionsNeverChangeCurrent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		src := newMemSource(validSDL("stable"))
		r := NewReconciler(NewCore(), src, nil)
		_, err := r.Bootstrap(context.Background())
		require.NoError(rt, err)
		require.NoError(rt, r.Start(context.Background()))
		defer func() { _ = r.Stop() }()

		before := r.Core().Current()
		n := rapid.IntRange(1, 20).Draw(rt, "retries")
		for i := 0; i < n; i++ {
			choice := rapid.IntRange(0, len(invalidSDLs)).Draw(rt, "choice")
			if choice == len(invalidSDLs) {
				src.Set("")
			} else {
				src.Set(invalidSDLs[choice])
			}
			_, err := r.Reload(context.Background())
			if err == nil {
				rt.Fatalf("invalid push %d accepted", i)
			}
			if r.Core().Current() != before {
				rt.Fatalf("active schema changed after %d rejected pushes", i+1)
			}
		}
	})
}

// 并发读者在切换过程中始终看到自洽的快照
func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	const versions = 30

	fieldByChecksum := make(map[string]string, versions+1)
	sdls := make([]string, versions)
	for i := range sdls {
		field := fmt.Sprintf("gen%d", i)
		sdls[i] = validSDL(field)
		fieldByChecksum[Checksum(sdls[i])] = field
	}

	src := newMemSource(sdls[0])
	r := NewReconciler(NewCore(), src, nil)
	_, err := r.Bootstrap(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	var (
		stop       atomic.Bool
		wg         sync.WaitGroup
		violations atomic.Int64
		reads      atomic.Int64
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastVersion uint64
			for !stop.Load() {
				s := r.Core().Current()
				reads.Add(1)
				if s == nil || s.Document.Checksum != Checksum(s.Document.SDL) {
					violations.Add(1)
					continue
				}
				field, known := fieldByChecksum[s.Document.Checksum]
				if !known {
					violations.Add(1)
					continue
				}
				if _, ok := s.Supergraph.Owner(ast.Query, field); !ok {
					violations.Add(1)
				}
				if s.Version() < lastVersion {
					violations.Add(1)
				}
				lastVersion = s.Version()
			}
		}()
	}

	for i := 1; i < versions; i++ {
		src.Set(sdls[i])
		_, err := r.Reload(context.Background())
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, violations.Load())
	assert.Positive(t, reads.Load())
	assert.Equal(t, uint64(versions), r.Core().Current().Version())
}
