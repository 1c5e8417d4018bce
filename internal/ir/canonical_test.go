package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"min int64", IRInt(-9223372036854775808), "-9223372036854775808"},
		{"bool", IRBool(true), "true"},
		{"null", IRNull{}, "null"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"plain slice", []any{"a", int64(1)}, `["a",1]`},
		{"string slice", []string{"orderPlaced", "paymentDone"}, `["orderPlaced","paymentDone"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra": IRInt(1),
		"alpha": IRObject{"b": IRInt(1), "a": IRInt(2)},
		"beta":  IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as surrogate 0xD800 which sorts before U+E000 in UTF-16.
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	result, err := MarshalCanonical(IRString("a\"b\\c\n<&>\u2028\x01"))
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\n<&>`+"\u2028"+`\u0001"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	a, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString("\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	require.Error(t, err)

	_, err = MarshalCanonical([]any{1.5})
	require.Error(t, err)
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"a":[1,"x",true,null]}`))
	require.NoError(t, err)

	want := IRObject{"a": IRArray{IRInt(1), IRString("x"), IRBool(true), IRNull{}}}
	assert.Equal(t, want, v)

	_, err = UnmarshalIRValue([]byte(`{"a":1.5}`))
	require.Error(t, err)
}
