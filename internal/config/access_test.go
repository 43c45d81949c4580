package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := &Config{
		Service: ServiceConfig{Name: "calc-node"},
		Space:   SpaceConfig{PollInterval: 50 * time.Millisecond},
		Transport: TransportConfig{
			Endpoints: []EndpointConfig{{Name: "calc-1", URL: "http://calc-1:8080"}},
		},
	}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{
			name: "root service field",
			path: "service.name",
			want: "calc-node",
		},
		{
			name: "duration renders as string",
			path: "space.poll_interval",
			want: "50ms",
		},
		{
			name:    "invalid path",
			path:    "service.missing",
			wantErr: true,
		},
		{
			name:    "path through scalar",
			path:    "service.name.first",
			wantErr: true,
		},
		{
			name: "type:name addressing",
			path: "endpoint:calc-1",
			want: cfg.Transport.Endpoints[0],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEntity(t *testing.T) {
	cfg := &Config{
		Transport: TransportConfig{Endpoints: []EndpointConfig{
			{Name: "calc-1", URL: "http://calc-1"},
			{Name: "calc-2", URL: "http://calc-2"},
		}},
	}

	got, err := cfg.GetEntity("endpoint:*")
	assert.NoError(t, err)
	assert.Equal(t, cfg.Transport.Endpoints, got)

	_, err = cfg.GetEntity("endpoint:missing")
	assert.Error(t, err)

	_, err = cfg.GetEntity("widget:calc-1")
	assert.Error(t, err)
}

func TestSetPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("service:\n  name: old-name\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	t.Run("set existing field", func(t *testing.T) {
		require.NoError(t, cfg.SetPath("service.name", "new-name"))
		reloaded, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "new-name", reloaded.Service.Name)
	})

	t.Run("create nested field", func(t *testing.T) {
		require.NoError(t, cfg.SetPath("provider.max_concurrent", "4"))
		reloaded, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.Provider.MaxConcurrent)
	})

	t.Run("invalid value is rolled back", func(t *testing.T) {
		before, err := os.ReadFile(configPath)
		require.NoError(t, err)

		assert.Error(t, cfg.SetPath("service.log_level", "loud"))

		after, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})
}
