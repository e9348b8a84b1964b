package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServeAddr(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"no args uses default", nil, defaultServeAddr, false},
		{"positional addr", []string{":8080"}, ":8080", false},
		{"flag addr", []string{"--addr", "localhost:9000"}, "localhost:9000", false},
		{"positional wins over default", []string{"0.0.0.0:3400"}, "0.0.0.0:3400", false},
		{"missing port", []string{"localhost"}, "", true},
		{"port out of range", []string{":70000"}, "", true},
		{"non-numeric port", []string{":abc"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseServeAddr(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAddr(t *testing.T) {
	assert.NoError(t, validateAddr("127.0.0.1:3400"))
	assert.NoError(t, validateAddr(":0"))
	assert.NoError(t, validateAddr("localhost:8080"))
	assert.Error(t, validateAddr("no-port"))
	assert.Error(t, validateAddr(":-1"))
}
