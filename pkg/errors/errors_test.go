package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithCode(t *testing.T) {
	err := WithCode(CodeNoLocationFix, "gps off")
	assert.Equal(t, CodeNoLocationFix, GetCode(err))
	assert.Equal(t, "gps off", GetMessage(err))
	assert.True(t, IsCode(err, CodeNoLocationFix))
	assert.False(t, IsCode(err, CodeInternal))
}

func TestWrapInheritsCode(t *testing.T) {
	inner := WithCode(CodeStoreWriteFailed, "redis down")
	outer := Wrap(inner, "write request record")

	assert.Equal(t, CodeStoreWriteFailed, GetCode(outer))
	assert.Contains(t, outer.Error(), "write request record")
	assert.Contains(t, outer.Error(), "redis down")
}

func TestWrapCodeOverrides(t *testing.T) {
	inner := fmt.Errorf("dial tcp: refused")
	outer := WrapCode(inner, CodeStoreWriteFailed, "save profile")

	assert.Equal(t, CodeStoreWriteFailed, GetCode(outer))
	assert.Equal(t, inner, Cause(outer))
}

func TestGetCodeUncoded(t *testing.T) {
	assert.Equal(t, 0, GetCode(fmt.Errorf("plain")))
	assert.Equal(t, 0, GetCode(nil))
}

func TestWithContext(t *testing.T) {
	base := WithCode(CodeStoreWriteFailed, "write helper inbox")
	withCtx := base.WithContext("helper", "bob")

	if assert.Len(t, withCtx.Context, 1) {
		assert.Equal(t, "helper", withCtx.Context[0].Key)
		assert.Equal(t, "bob", withCtx.Context[0].Value)
	}
	assert.Empty(t, base.Context, "WithContext must not mutate the original")
}

func TestUnwrapChain(t *testing.T) {
	inner := fmt.Errorf("root")
	err := Wrapf(WrapCode(inner, CodeInvalidState, "mid"), "outer %s", "layer")

	assert.True(t, Is(err, inner))
	assert.Equal(t, inner, Cause(err))
}
