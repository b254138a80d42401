package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := `
broker:
  listen_address: 0.0.0.0:6000
  directive_timeout: 500ms
admin:
  listen: 127.0.0.1:7000
params:
  database: /var/lib/mechos/params.yaml
log:
  level: debug
  encoding: json
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6000", c.Broker.ListenAddress)
	assert.Equal(t, 500*time.Millisecond, c.Broker.DirectiveTimeout)
	assert.Equal(t, 1024*1024, c.Broker.MaxMessageSize)
	assert.Equal(t, "/var/lib/mechos/params.yaml", c.Broker.ParamDatabase)
	assert.Equal(t, "127.0.0.1:7000", c.Admin.ListenAddress)
	assert.Equal(t, 30*time.Second, c.Admin.ReadTimeout)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Encoding)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "broker:\n  listen: 1.2.3.4:5\n"},
		{name: "bad listen address", doc: "broker:\n  listen_address: nope\n"},
		{name: "bad log level", doc: "log:\n  level: loud\n"},
		{name: "not yaml", doc: "broker: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5959", c.Broker.ListenAddress)
	assert.Equal(t, "127.0.0.1:5960", c.Admin.ListenAddress)

	path := filepath.Join(t.TempDir(), "mechos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  disabled: true\n  listen: \"\"\n"), 0o644))
	c, err = Load(path)
	require.NoError(t, err)
	assert.True(t, c.Admin.Disabled)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvFile, "/etc/mechos.yaml")
	assert.Equal(t, "/etc/mechos.yaml", Path(""))
	assert.Equal(t, "local.yaml", Path("local.yaml"))
}
