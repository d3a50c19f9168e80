package lib

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
status = "127.0.0.1:8081"
policy = "preserve-key-space"
hash = "xxhash"
compress = "snappy"

[monitor]
interval = 5

[[cluster]]
weight = 300
  [[cluster.server]]
  host = "10.0.0.1"
  port = 8888
  password = "secret"
  [[cluster.server]]
  host = "10.0.0.2"
  port = 8888
  master = false
  timeout = 250

[[cluster]]
id = "second"
  [[cluster.server]]
  host = "10.0.1.1"
  port = 8888
  noblock = true

[[relayer]]
mode = "smart"
listen = "unix:///tmp/ssdb.sock"
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, "preserve-key-space", c.Policy)
	assert.Equal(t, "xxhash", c.Hash)
	assert.Equal(t, CompressSnappy, c.Compress)
	assert.Equal(t, 5, c.Monitor.Interval)
	assert.Equal(t, DefaultMonitorWorkers, c.Monitor.Workers)
	assert.Equal(t, DefaultPingCommand, c.PingCommand)

	require.Len(t, c.Cluster, 2)
	first := c.Cluster[0]
	assert.Equal(t, "10.0.0.1:8888", first.ID, "id defaults to the first server")
	assert.Equal(t, 300, first.Weight)
	assert.Equal(t, "secret", first.Server[0].Password)
	assert.True(t, first.Server[0].IsMaster())
	assert.False(t, first.Server[1].IsMaster())
	assert.Equal(t, DefaultServerTimeout, first.Server[0].Timeout)
	assert.Equal(t, 250*time.Millisecond, first.Server[1].TimeoutDuration())
	assert.Equal(t, DefaultMaxConnections, first.Server[0].MaxConnections)

	second := c.Cluster[1]
	assert.Equal(t, "second", second.ID)
	assert.Equal(t, DefaultWeight, second.Weight)
	assert.True(t, second.Server[0].NoBlock)

	require.Len(t, c.Relayer, 1)
	r := c.Relayer[0]
	assert.Equal(t, ModeSmart, r.Type())
	assert.Equal(t, "unix", r.ListenScheme())
	assert.Equal(t, "/tmp/ssdb.sock", r.ListenHost())
	assert.Equal(t, responseTimeout, r.Timeout)
}

func TestConfigErrors(t *testing.T) {
	server := "\n[[cluster]]\n  [[cluster.server]]\n  host = \"h\"\n  port = 1\n"
	cases := map[string]string{
		"no clusters":   `policy = "auto-expand"`,
		"policy":        `policy = "random"` + server,
		"hash":          `hash = "crc"` + server,
		"codec":         `compress = "lz4"` + server,
		"no servers":    "[[cluster]]\nid = \"x\"\n",
		"no host":       "[[cluster]]\n  [[cluster.server]]\n  port = 1\n",
		"port":          "[[cluster]]\n  [[cluster.server]]\n  host = \"h\"\n  port = 70000\n",
		"negative":      "[[cluster]]\nweight = -1\n  [[cluster.server]]\n  host = \"h\"\n  port = 1\n",
		"weights":       "[[cluster]]\nweight = 2147483600\n  [[cluster.server]]\n  host = \"h\"\n  port = 1\n[[cluster]]\nweight = 100\n  [[cluster.server]]\n  host = \"i\"\n  port = 1\n",
		"duplicated id": server + server,
		"listen":        server + "\n[[relayer]]\nlisten = \"http://x\"\n",
		"toml":          "[[cluster]\n",
	}
	for name, conf := range cases {
		_, err := ParseConfig(conf)
		assert.Error(t, err, name)
	}
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smart-ssdb.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Len(t, c.Cluster, 2)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCompressBytes(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789"), 100)
	for _, codec := range []string{CompressSnappy, CompressGzip} {
		c := CompressBytes(big, codec)
		assert.Less(t, len(c), len(big), codec)
		assert.Equal(t, big, UncompressBytes(c), codec)
	}

	small := []byte("short")
	assert.Equal(t, small, CompressBytes(small, CompressSnappy))
	assert.Equal(t, big, CompressBytes(big, CompressNone))

	// Not compressed, or broken after the magic prefix
	assert.Equal(t, big, UncompressBytes(big))
	broken := append([]byte("$sy$"), 0xff, 0xff)
	assert.Equal(t, broken, UncompressBytes(broken))
}
