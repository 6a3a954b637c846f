package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{"b": IRInt(1), "a": IRInt(2), "c": IRInt(3)}
	assert.Equal(t, []string{"a", "b", "c"}, obj.SortedKeys())
}

func TestUnmarshalObject_IntFloatDistinction(t *testing.T) {
	obj, err := UnmarshalObject([]byte(`{"severity": 8, "score": 8.0, "lat": 0.0512, "none": null}`))
	require.NoError(t, err)

	assert.Equal(t, IRInt(8), obj["severity"])
	assert.Equal(t, IRFloat(8), obj["score"])
	assert.Equal(t, IRFloat(0.0512), obj["lat"])
	assert.Equal(t, IRNull{}, obj["none"])
}

func TestUnmarshalObject_RejectsNonObject(t *testing.T) {
	_, err := UnmarshalObject([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	obj := NewObject(
		O("severity", IRInt(9)),
		O("reporter", IRString("B")),
		O("score", IRFloat(2)),
		O("tags", IRArray{IRString("a"), IRBool(false)}),
	)

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"reporter":"B","score":2.0,"severity":9,"tags":["a",false]}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obj, back)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(IRString("a"), IRString("a")))
	assert.True(t, Equal(nil, IRNull{}))
	assert.True(t, Equal(IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1)}))
	assert.False(t, Equal(IRInt(8), IRFloat(8)), "int and float are distinct values")
	assert.False(t, Equal(IRString("a"), IRNull{}))
}

func TestAsNumber(t *testing.T) {
	n, ok := AsNumber(IRInt(9))
	assert.True(t, ok)
	assert.Equal(t, 9.0, n)

	n, ok = AsNumber(IRFloat(7.5))
	assert.True(t, ok)
	assert.Equal(t, 7.5, n)

	_, ok = AsNumber(IRString("9"))
	assert.False(t, ok)
}

func TestIRObjectCloneIsDeep(t *testing.T) {
	orig := IRObject{"nested": IRObject{"a": IRInt(1)}, "list": IRArray{IRInt(1)}}
	cp := orig.Clone()

	cp["nested"].(IRObject)["a"] = IRInt(2)
	cp["list"].(IRArray)[0] = IRInt(2)

	assert.Equal(t, IRInt(1), orig["nested"].(IRObject)["a"])
	assert.Equal(t, IRInt(1), orig["list"].(IRArray)[0])
}

func TestNonNullCount(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "b": IRNull{}, "c": IRString("")}
	assert.Equal(t, 2, obj.NonNullCount())
}

func TestFromAny_YAML(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte("severity: 8\nscore: 0.5\nreporter: A\nmissing: null\n"), &raw))

	obj, err := ObjectFromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, IRInt(8), obj["severity"])
	assert.Equal(t, IRFloat(0.5), obj["score"])
	assert.Equal(t, IRString("A"), obj["reporter"])
	assert.Equal(t, IRNull{}, obj["missing"])
}

func TestFromAny_RejectsUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}
