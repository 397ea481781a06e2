// handlers.go implements the server-level commands: PING, INFO, DEL and
// MEMORY USAGE.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"scalebloom.lopezb.com/internal/bloom"
)

// entryOverhead approximates the Go bookkeeping of one key: the map slot,
// the key string header, the Entry with its mutex and the ScalableFilter
// with its layer slice.
const entryOverhead = 128

// layerOverhead approximates one Layer plus its BitVector and bitset headers.
const layerOverhead = 96

// handlePing handles the PING command.
// Syntax: PING [message]
func (app *application) handlePing(w io.Writer, args [][]byte) {
	switch len(args) {
	case 0:
		reply(w, replyPong)
	case 1:
		reply(w, textReply(string(args[0])))
	default:
		app.wrongNumberOfArgsResponse(w, "PING")
	}
}

// handleInfo handles the INFO command.
// Syntax: INFO
func (app *application) handleInfo(w io.Writer, args [][]byte) {
	if len(args) > 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	sum := summarize(app.store)

	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", app.metrics.TotalConnections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(app.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", app.metrics.TotalCommands.Load())

	b.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&b, "filters:%d\r\n", sum.Keys)
	fmt.Fprintf(&b, "filter_layers:%d\r\n", sum.Layers)
	fmt.Fprintf(&b, "filter_items:%d\r\n", sum.Items)

	b.WriteString("# Memory\r\n")
	fmt.Fprintf(&b, "filter_bytes:%d\r\n", sum.Bytes)
	fmt.Fprintf(&b, "filter_bytes_human:%s\r\n", humanize.IBytes(sum.Bytes))

	reply(w, textReply(b.String()))
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
//
// Returns the number of keys that existed.
func (app *application) handleDel(w io.Writer, args [][]byte) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	var deleted uint64
	for _, key := range args {
		if app.store.Delete(string(key)) {
			deleted++
		}
	}

	reply(w, countReply(deleted))
}

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE key
func (app *application) handleMemory(w io.Writer, args [][]byte) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	sub := strings.ToUpper(string(args[0]))
	if sub != "USAGE" {
		reply(w, errorReply(fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", sub)))
		return
	}

	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "MEMORY USAGE")
		return
	}

	key := string(args[1])

	entry := app.store.Get(key)
	if entry == nil {
		reply(w, replyNull)
		return
	}

	var size uint64
	_ = entry.With(func(sf *bloom.ScalableFilter) error {
		size = uint64(len(key)) + entryOverhead + sf.SizeBytes() + uint64(sf.LayerCount())*layerOverhead
		return nil
	})

	reply(w, countReply(size))
}
