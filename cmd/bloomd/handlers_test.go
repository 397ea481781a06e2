package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "+PONG\r\n", call(app, app.handlePing))
	assert.Equal(t, "$2\r\nhi\r\n", call(app, app.handlePing, "hi"))
	assert.Equal(t, "-ERR wrong number of arguments for 'PING' command\r\n", call(app, app.handlePing, "a", "b"))
}

func TestInfo(t *testing.T) {
	app := newTestApp(t)

	addItems(t, app, "bf", 5)
	addItems(t, app, "c", 1)

	info := call(app, app.handleInfo)
	require.Equal(t, byte('$'), info[0])

	assert.Equal(t, "2", infoField(t, info, "filters"))
	assert.Equal(t, "3", infoField(t, info, "filter_layers"))
	assert.Equal(t, "6", infoField(t, info, "filter_items"))
	assert.Equal(t, "30", infoField(t, info, "filter_bytes"))
	assert.Equal(t, "30 B", infoField(t, info, "filter_bytes_human"))
	assert.Equal(t, "0", infoField(t, info, "connections_active"))

	assert.Equal(t, "-ERR wrong number of arguments for 'INFO' command\r\n", call(app, app.handleInfo, "server"))
}

func TestInfoCountsCommands(t *testing.T) {
	app := newTestApp(t)
	startServer(t, app)

	c := dial(t, app)
	c.send("PING")
	c.send("BF.ADD k v")

	assert.Equal(t, "$", c.send("INFO")[:1])
	assert.Equal(t, uint64(3), app.metrics.TotalCommands.Load())
	assert.Equal(t, uint64(1), app.metrics.TotalConnections.Load())
}

func TestDel(t *testing.T) {
	app := newTestApp(t)

	addItems(t, app, "a", 1)
	addItems(t, app, "b", 1)

	assert.Equal(t, ":2\r\n", call(app, app.handleDel, "a", "b", "missing"))
	assert.Equal(t, ":0\r\n", call(app, app.handleDel, "a"))
	assert.Equal(t, ":0\r\n", call(app, app.handleBFExists, "a", "item-0"))
	assert.Equal(t, "-ERR wrong number of arguments for 'DEL' command\r\n", call(app, app.handleDel))

	// A deleted key is recreated from scratch.
	assert.Equal(t, ":1\r\n", call(app, app.handleBFAdd, "a", "item-0"))
}

func TestMemoryUsage(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "$-1\r\n", call(app, app.handleMemory, "USAGE", "bf"))

	addItems(t, app, "bf", 1)
	// key (2) + entry overhead (128) + 8 bytes of bits + one layer (96)
	assert.Equal(t, ":234\r\n", call(app, app.handleMemory, "usage", "bf"))

	call(app, app.handleBFMAdd, "bf", "item-1", "item-2", "item-3", "item-4")
	// Second layer: 14 more bytes of bits and another layer overhead.
	assert.Equal(t, ":344\r\n", call(app, app.handleMemory, "USAGE", "bf"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no subcommand", nil, "-ERR wrong number of arguments for 'MEMORY' command\r\n"},
		{"unknown subcommand", []string{"DOCTOR"}, "-ERR unknown subcommand 'DOCTOR'. Try MEMORY USAGE <key>\r\n"},
		{"missing key", []string{"USAGE"}, "-ERR wrong number of arguments for 'MEMORY USAGE' command\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(app, app.handleMemory, tt.args...))
		})
	}
}
