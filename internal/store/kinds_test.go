package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds_LookupCreatesGenericOnce(t *testing.T) {
	k := NewKinds()

	d, created := k.Lookup("MX", "Index", "")
	assert.True(t, created)
	assert.True(t, d.Generic)
	assert.Equal(t, "mx_index_results", d.Index)
	assert.Equal(t, "mx_index", d.Key())

	again, created := k.Lookup("mx", "index", "")
	assert.False(t, created)
	assert.Equal(t, d, again)
	assert.Equal(t, 1, k.Len())
}

func TestKinds_LookupVersionFallback(t *testing.T) {
	k := NewKinds()
	require.NoError(t, k.Register(Descriptor{Namespace: "mx", Subtype: "integrate", Index: "integrations"}))
	require.NoError(t, k.Register(Descriptor{Namespace: "mx", Subtype: "integrate", Version: "2.0", Index: "integrations_v2"}))

	d, created := k.Lookup("mx", "integrate", "2.0")
	assert.False(t, created)
	assert.Equal(t, "integrations_v2", d.Index)

	d, created = k.Lookup("mx", "integrate", "1.0")
	assert.False(t, created)
	assert.Equal(t, "integrations", d.Index)
}

func TestKinds_RegisterDuplicate(t *testing.T) {
	k := NewKinds()
	require.NoError(t, k.Register(Descriptor{Namespace: "mx", Subtype: "index"}))
	assert.Error(t, k.Register(Descriptor{Namespace: "MX", Subtype: "INDEX"}))

	// a generic descriptor may be replaced by a specific one
	k.Lookup("mx", "integrate", "")
	assert.NoError(t, k.Register(Descriptor{Namespace: "mx", Subtype: "integrate", Index: "custom"}))
	d, _ := k.Lookup("mx", "integrate", "")
	assert.Equal(t, "custom", d.Index)
	assert.False(t, d.Generic)
}

func TestKinds_ConcurrentLookup(t *testing.T) {
	k := NewKinds()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := k.Lookup("mx", "snap", ""); created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, k.Len())
}

func TestKinds_ClassFilter(t *testing.T) {
	k := NewKinds()

	tests := []struct {
		name      string
		namespace string
		class     string
		want      ResultFilter
		wantErr   bool
	}{
		{"data", "mx", "data", ResultFilter{Types: []string{"mx:index", "mx:integrate"}}, false},
		{"snap", "MX", "SNAP", ResultFilter{Types: []string{"mx:index+strategy"}}, false},
		{"sweep", "mx", "sweep", ResultFilter{Types: []string{"mx:integrate"}}, false},
		{"all", "mx", "all", ResultFilter{All: true}, false},
		{"empty class", "mx", "merge", ResultFilter{}, false},
		{"unknown class", "mx", "bogus", ResultFilter{}, true},
		{"unknown namespace", "xx", "all", ResultFilter{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := k.ClassFilter(tt.namespace, tt.class)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownClass)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	f, _ := k.ClassFilter("mx", "merge")
	assert.True(t, f.MatchesNothing())
}

func TestLoadKinds(t *testing.T) {
	content := `
kinds:
  - namespace: mx
    subtype: index
    index: mx_index_results
  - namespace: mx
    subtype: integrate
    version: "2.0"
classes:
  saxs:
    Profile: ["saxs:profile"]
`
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	k, err := LoadKinds(path)
	require.NoError(t, err)
	assert.Equal(t, 2, k.Len())

	d, created := k.Lookup("mx", "integrate", "2.0")
	assert.False(t, created)
	assert.Equal(t, "mx_integrate_results", d.Index)

	f, err := k.ClassFilter("saxs", "profile")
	require.NoError(t, err)
	assert.Equal(t, []string{"saxs:profile"}, f.Types)

	// defaults survive for namespaces the file does not mention
	_, err = k.ClassFilter("mx", "data")
	assert.NoError(t, err)
}

func TestParseKinds_Invalid(t *testing.T) {
	_, err := ParseKinds([]byte("kinds: [{namespace: mx}]"))
	assert.Error(t, err)

	_, err = ParseKinds([]byte("kinds: {not: a list"))
	assert.Error(t, err)

	_, err = LoadKinds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadKinds_ShippedFile(t *testing.T) {
	k, err := LoadKinds(filepath.Join("..", "..", "configs", "kinds.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, k.Len())

	d, created := k.Lookup("MX", "Index+Strategy", "2.0.0")
	assert.False(t, created)
	assert.Equal(t, "mx_index_results", d.Index)

	d, _ = k.Lookup("mx", "integrate", "1.1.0")
	assert.Equal(t, "mx_integrate_v1_results", d.Index)

	// other versions fall through to a generic descriptor
	d, created = k.Lookup("mx", "integrate", "2.0.0")
	assert.True(t, created)
	assert.Equal(t, "mx_integrate_results", d.Index)

	f, err := k.ClassFilter("mx", "snap")
	require.NoError(t, err)
	assert.Equal(t, []string{"mx:index+strategy"}, f.Types)
}
