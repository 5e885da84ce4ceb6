package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	err := DuplicateItem("Manager.CreateObject", "object %q already exists", "X")
	assert.True(t, Is(err, ErrDuplicateItem))
	assert.False(t, Is(err, ErrItemNotFound))
	assert.Equal(t, CodeDuplicateItem, Code(err))
	assert.Equal(t, `Manager.CreateObject: object "X" already exists`, err.Error())
}

func TestWrappedThroughFmt(t *testing.T) {
	inner := PermissionDenied("Ledger.CheckPermission", "key %s", "Object_UnparentOnOtherObject")
	outer := fmt.Errorf("reparent: %w", inner)
	assert.True(t, Is(outer, ErrPermissionDenied))
	assert.Equal(t, CodePermissionDenied, Code(outer))
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(CodeInternalError, "Connection.AllocReplica", io.ErrUnexpectedEOF, "truncated allocation")
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.True(t, Is(err, ErrInternalError))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, CodeUnknown, Code(io.EOF))
	assert.Equal(t, CodeItemNotFound, Code(fmt.Errorf("x: %w", ErrItemNotFound)))
}

func TestWithContext(t *testing.T) {
	err := InvalidState("Component.SetLocalOverride", "client only").WithContext("component", "Camera")
	assert.Equal(t, "Camera", err.Context["component"])
}
