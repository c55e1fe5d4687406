package main

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"plantation/internal/attendance"
)

func TestNewDeviceKey(t *testing.T) {
	a, err := newDeviceKey()
	require.NoError(t, err)
	b, err := newDeviceKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 24)

	hash, err := attendance.HashDeviceKey(a)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(a)))
}

func TestRequired(t *testing.T) {
	assert.NoError(t, required(map[string]string{"uid": "04A1"}))
	assert.EqualError(t, required(map[string]string{"uid": ""}), "-uid is required")
}
