package canonical

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsMapKeys(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"zebra": 1, "apple": 2, "mango": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, string(out))
}

func TestMarshalNestedDeterminism(t *testing.T) {
	v1 := map[string]interface{}{
		"outer": map[string]interface{}{"b": []int{1, 2}, "a": "x"},
		"list":  []interface{}{map[string]interface{}{"k2": true, "k1": nil}},
	}
	v2 := map[string]interface{}{
		"list":  []interface{}{map[string]interface{}{"k1": nil, "k2": true}},
		"outer": map[string]interface{}{"a": "x", "b": []int{1, 2}},
	}
	o1, err := Marshal(v1)
	require.NoError(t, err)
	o2, err := Marshal(v2)
	require.NoError(t, err)
	if diff := cmp.Diff(string(o1), string(o2)); diff != "" {
		t.Fatalf("canonical forms differ (-v1 +v2):\n%s", diff)
	}
}

func TestMarshalStructsUseJSONTags(t *testing.T) {
	type inner struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	out, err := Marshal(inner{B: 2, A: "one"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"one","b":2}`, string(out))
}

func TestMarshalPreservesNumberLiterals(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"ratio": 0.85, "count": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"ratio":0.85}`, string(out))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"expr": "a<b && c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a<b && c>d"}`, string(out))
}

func TestHashHexStable(t *testing.T) {
	h1, err := HashHex(map[string]interface{}{"a": 1, "b": "two"})
	require.NoError(t, err)
	h2, err := HashHex(map[string]interface{}{"b": "two", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentIDLength(t *testing.T) {
	id, err := ContentID("anything")
	require.NoError(t, err)
	assert.Len(t, id, 32)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestContentIDDiffers(t *testing.T) {
	a, err := ContentID(map[string]interface{}{"v": 1})
	require.NoError(t, err)
	b, err := ContentID(map[string]interface{}{"v": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashText(t *testing.T) {
	// Known SHA-256 of "abc".
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashText("abc"))
	assert.Equal(t, HashText("x"), HashBytes([]byte("x")))
}

func TestHashStream(t *testing.T) {
	h, err := HashStream(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, HashText("abc"), h)
}
