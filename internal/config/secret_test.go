package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_String(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
}

func TestSecret_GoString(t *testing.T) {
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", Secret("password123")))
	assert.Equal(t, `""`, fmt.Sprintf("%#v", Secret("")))
}

func TestSecret_Reveal(t *testing.T) {
	assert.Equal(t, "password123", Secret("password123").Reveal())
}

func TestSecret_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: "password123"})
	require.NoError(t, err)
	assert.Equal(t, `{"key":"[REDACTED]"}`, string(data))

	data, err = json.Marshal(struct {
		Key Secret `json:"key"`
	}{})
	require.NoError(t, err)
	assert.Equal(t, `{"key":""}`, string(data))
}

func TestSecret_IsSet(t *testing.T) {
	assert.True(t, Secret("x").IsSet())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_MarshalYAML(t *testing.T) {
	data, err := yaml.Marshal(ExchangeConfig{APIKey: "abc", SecretKey: "def"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "abc")
	assert.NotContains(t, string(data), "def")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestSecret_UnmarshalYAML(t *testing.T) {
	var cfg ExchangeConfig
	require.NoError(t, yaml.Unmarshal([]byte("api_key: raw-key\n"), &cfg))
	assert.Equal(t, "raw-key", cfg.APIKey.Reveal())
}
