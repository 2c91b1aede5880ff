package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	valid := strings.Repeat("a", 27)
	got, err := ValidateRoomID(valid)
	assert.NoError(t, err)
	assert.Equal(t, valid, got)

	_, err = ValidateRoomID("")
	assert.Error(t, err)

	_, err = ValidateRoomID(strings.Repeat("a", 26))
	assert.Error(t, err)

	_, err = ValidateRoomID(strings.Repeat("a", 27) + "!")
	assert.Error(t, err)
}

func TestStripHostScheme(t *testing.T) {
	assert.Equal(t, "example.com", StripHostScheme("wss://example.com/"))
	assert.Equal(t, "example.com:8080", StripHostScheme("https://example.com:8080"))
	assert.Equal(t, "example.com", StripHostScheme("example.com"))
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)
	rb.Push(4)
	assert.Equal(t, []int{2, 3, 4}, rb.Snapshot())
	assert.Equal(t, 3, rb.Len())
	rb.Reset()
	assert.Equal(t, 0, rb.Len())
}
