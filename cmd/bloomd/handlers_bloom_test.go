package main

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalebloom.lopezb.com/internal/bloom"
)

// call runs a handler directly and returns its reply.
func call(app *application, handler CommandHandler, args ...string) string {
	req := make([][]byte, len(args))
	for i, arg := range args {
		req[i] = []byte(arg)
	}

	var buf bytes.Buffer
	handler(&buf, req)
	return buf.String()
}

func addItems(t *testing.T, app *application, key string, n int) {
	t.Helper()

	for i := range n {
		require.Equal(t, ":1\r\n", call(app, app.handleBFAdd, key, fmt.Sprintf("item-%d", i)))
	}
}

// infoField returns the first value of field in a BF.INFO or INFO reply.
func infoField(t *testing.T, reply, field string) string {
	t.Helper()

	for _, line := range strings.Split(reply, "\r\n") {
		if v, ok := strings.CutPrefix(line, field+":"); ok {
			return v
		}
	}

	t.Fatalf("field %q not found in %q", field, reply)
	return ""
}

func TestBFAdd(t *testing.T) {
	app := newTestApp(t)
	startServer(t, app)

	c := dial(t, app)

	t.Run("new item", func(t *testing.T) {
		assert.Equal(t, ":1\r\n", c.send("BF.ADD bf_add_1 element1"))
	})

	t.Run("duplicate returns 0", func(t *testing.T) {
		c.send("BF.ADD bf_add_2 dup")
		assert.Equal(t, ":0\r\n", c.send("BF.ADD bf_add_2 dup"))
		assert.Equal(t, ":1\r\n", c.send("BF.CARD bf_add_2"))
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		assert.Equal(t, "-ERR wrong number of arguments for 'BF.ADD' command\r\n", c.send("BF.ADD"))
		assert.Equal(t, "-ERR wrong number of arguments for 'BF.ADD' command\r\n", c.send("BF.ADD keyonly"))
	})
}

func TestBFAddGrowsFilter(t *testing.T) {
	app := newTestApp(t)

	addItems(t, app, "bf", 4)
	assert.Equal(t, ":1\r\n", call(app, app.handleBFLayers, "bf"))

	assert.Equal(t, ":1\r\n", call(app, app.handleBFAdd, "bf", "item-4"))
	assert.Equal(t, ":2\r\n", call(app, app.handleBFLayers, "bf"))
	assert.Equal(t, ":5\r\n", call(app, app.handleBFCard, "bf"))

	for i := range 5 {
		assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "bf", fmt.Sprintf("item-%d", i)))
	}
}

func TestBFMAdd(t *testing.T) {
	app := newTestApp(t)

	reply := call(app, app.handleBFMAdd, "bf", "item-0", "item-1", "item-0", "item-2")
	assert.Equal(t, "*4\r\n:1\r\n:1\r\n:0\r\n:1\r\n", reply)
	assert.Equal(t, ":3\r\n", call(app, app.handleBFCard, "bf"))

	assert.Equal(t, "-ERR wrong number of arguments for 'BF.MADD' command\r\n", call(app, app.handleBFMAdd, "bf"))
}

func TestBFInsert(t *testing.T) {
	app := newTestApp(t)

	t.Run("like BF.MADD", func(t *testing.T) {
		reply := call(app, app.handleBFInsert, "plain", "ITEMS", "item-0", "item-0", "item-1")
		assert.Equal(t, "*3\r\n:1\r\n:0\r\n:1\r\n", reply)
		assert.Equal(t, ":2\r\n", call(app, app.handleBFCard, "plain"))
	})

	t.Run("always counts every insertion", func(t *testing.T) {
		reply := call(app, app.handleBFInsert, "all", "always", "ITEMS", "item-0", "item-0", "item-1")
		assert.Equal(t, "*3\r\n:1\r\n:0\r\n:1\r\n", reply)
		assert.Equal(t, ":3\r\n", call(app, app.handleBFCard, "all"))

		// Two more duplicates fill the 4-item first layer and grow the chain.
		call(app, app.handleBFInsert, "all", "ALWAYS", "ITEMS", "item-1", "item-1")
		assert.Equal(t, ":5\r\n", call(app, app.handleBFCard, "all"))
		assert.Equal(t, ":2\r\n", call(app, app.handleBFLayers, "all"))
	})

	t.Run("nocreate", func(t *testing.T) {
		assert.Equal(t, "-ERR no such key\r\n", call(app, app.handleBFInsert, "absent", "NOCREATE", "ITEMS", "x"))
		assert.Nil(t, app.store.Get("absent"))

		reply := call(app, app.handleBFInsert, "plain", "NOCREATE", "ALWAYS", "ITEMS", "item-2")
		assert.Equal(t, "*1\r\n:1\r\n", reply)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		wrongArgs := "-ERR wrong number of arguments for 'BF.INSERT' command\r\n"

		assert.Equal(t, wrongArgs, call(app, app.handleBFInsert, "k", "ITEMS"))
		assert.Equal(t, wrongArgs, call(app, app.handleBFInsert, "k", "ALWAYS", "ITEMS"))
		assert.Equal(t, wrongArgs, call(app, app.handleBFInsert, "k", "ALWAYS", "NOCREATE"))
		assert.Equal(t, "-ERR unknown option 'FAST'\r\n", call(app, app.handleBFInsert, "k", "FAST", "ITEMS", "x"))
		assert.Nil(t, app.store.Get("k"))
	})
}

func TestBFAddBinaryItems(t *testing.T) {
	app := newTestApp(t)
	startServer(t, app)

	c := dial(t, app)

	// The same bytes with and without an embedded NUL are different items.
	_, err := c.conn.Write([]byte("*3\r\n$6\r\nBF.ADD\r\n$3\r\nbin\r\n$3\r\na\x00b\r\n"))
	require.NoError(t, err)
	assert.Equal(t, ":1\r\n", c.readLine())

	_, err = c.conn.Write([]byte("*3\r\n$9\r\nBF.EXISTS\r\n$3\r\nbin\r\n$3\r\na\x00b\r\n"))
	require.NoError(t, err)
	assert.Equal(t, ":1\r\n", c.readLine())

	assert.Equal(t, ":0\r\n", c.send("BF.EXISTS bin ab"))
}

func TestBFExists(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "bf", 10)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"present", []string{"bf", "item-3"}, ":1\r\n"},
		{"absent", []string{"bf", "missing-0"}, ":0\r\n"},
		{"missing key", []string{"nokey", "item-3"}, ":0\r\n"},
		{"wrong args", []string{"bf"}, "-ERR wrong number of arguments for 'BF.EXISTS' command\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(app, app.handleBFExists, tt.args...))
		})
	}

	// A lookup never creates the key.
	assert.Nil(t, app.store.Get("nokey"))
}

func TestBFMExists(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "bf", 10)

	reply := call(app, app.handleBFMExists, "bf", "item-0", "missing-0", "item-9", "missing-1")
	assert.Equal(t, "*4\r\n:1\r\n:0\r\n:1\r\n:0\r\n", reply)

	reply = call(app, app.handleBFMExists, "nokey", "a", "b")
	assert.Equal(t, "*2\r\n:0\r\n:0\r\n", reply)
}

func TestBFCardAndLayersMissingKey(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, ":0\r\n", call(app, app.handleBFCard, "nokey"))
	assert.Equal(t, ":0\r\n", call(app, app.handleBFLayers, "nokey"))
	assert.Equal(t, "-ERR wrong number of arguments for 'BF.CARD' command\r\n", call(app, app.handleBFCard))
	assert.Equal(t, "-ERR wrong number of arguments for 'BF.LAYERS' command\r\n", call(app, app.handleBFLayers, "a", "b"))
}

func TestBFReserve(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "+OK\r\n", call(app, app.handleBFReserve, "res", "0.001", "100", "0.5"))
	assert.Equal(t, "-ERR item exists\r\n", call(app, app.handleBFReserve, "res", "0.01", "10"))

	info := call(app, app.handleBFInfo, "res")
	assert.Equal(t, "0.001", infoField(t, info, "error_rate"))
	assert.Equal(t, "0.5", infoField(t, info, "tightening_ratio"))
	assert.Equal(t, "100", infoField(t, info, "initial_capacity"))
	assert.Equal(t, "1583", infoField(t, info, "bits"))
	assert.Equal(t, "11", infoField(t, info, "hash_count"))

	t.Run("default ratio", func(t *testing.T) {
		assert.Equal(t, "+OK\r\n", call(app, app.handleBFReserve, "res2", "0.001", "100"))

		info := call(app, app.handleBFInfo, "res2")
		assert.Equal(t, "0.85", infoField(t, info, "tightening_ratio"))
		assert.Equal(t, "1833", infoField(t, info, "bits"))
		assert.Equal(t, "13", infoField(t, info, "hash_count"))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			want string
		}{
			{"not a float", []string{"x", "abc", "100"}, "-ERR value is not a valid float\r\n"},
			{"not an integer", []string{"x", "0.01", "-5"}, "-ERR value is not an integer or out of range\r\n"},
			{"bad ratio", []string{"x", "0.01", "100", "r"}, "-ERR value is not a valid float\r\n"},
			{"error rate out of range", []string{"x", "1.5", "100"}, "-ERR bloom: invalid error_rate 1.5: must be in the open interval (0, 1)\r\n"},
			{"zero capacity", []string{"x", "0.01", "0"}, "-ERR bloom: invalid initial_capacity 0: must be positive\r\n"},
			{"ratio out of range", []string{"x", "0.01", "100", "1"}, "-ERR bloom: invalid tightening_ratio 1: must be in the open interval (0, 1)\r\n"},
			{"too few", []string{"x", "0.01"}, "-ERR wrong number of arguments for 'BF.RESERVE' command\r\n"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, call(app, app.handleBFReserve, tt.args...))
			})
		}

		assert.Nil(t, app.store.Get("x"))
	})
}

func TestBFInfo(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "-ERR no such key\r\n", call(app, app.handleBFInfo, "nokey"))

	addItems(t, app, "bf", 5)
	info := call(app, app.handleBFInfo, "bf")

	require.True(t, strings.HasPrefix(info, "$"))
	assert.Equal(t, "5", infoField(t, info, "items"))
	assert.Equal(t, "2", infoField(t, info, "layers"))
	assert.Equal(t, "22", infoField(t, info, "bytes"))
	assert.Equal(t, "22 B", infoField(t, info, "bytes_human"))
	assert.Equal(t, "175", infoField(t, info, "bits"))
	assert.Contains(t, info, "# Layer 0\r\ncapacity:4\r\nitems:4\r\nbytes:8\r\nbits:64\r\nhash_count:9\r\n")
	assert.Contains(t, info, "# Layer 1\r\ncapacity:8\r\nitems:1\r\nbytes:14\r\nbits:111\r\nhash_count:10\r\n")
}

func TestBFReset(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "-ERR no such key\r\n", call(app, app.handleBFReset, "nokey"))

	addItems(t, app, "bf", 13)
	require.Equal(t, ":3\r\n", call(app, app.handleBFLayers, "bf"))

	assert.Equal(t, "+OK\r\n", call(app, app.handleBFReset, "bf"))
	assert.Equal(t, ":0\r\n", call(app, app.handleBFCard, "bf"))
	assert.Equal(t, ":1\r\n", call(app, app.handleBFLayers, "bf"))
	assert.Equal(t, ":0\r\n", call(app, app.handleBFExists, "bf", "item-0"))

	// A reset filter behaves like a new one.
	addItems(t, app, "bf", 5)
	assert.Equal(t, ":2\r\n", call(app, app.handleBFLayers, "bf"))
}

func TestBFMerge(t *testing.T) {
	app := newTestApp(t)

	addItems(t, app, "a", 5)
	for i := range 3 {
		require.Equal(t, ":1\r\n", call(app, app.handleBFAdd, "b", fmt.Sprintf("other-%d", i)))
	}

	assert.Equal(t, "+OK\r\n", call(app, app.handleBFMerge, "a", "b"))

	assert.Equal(t, ":8\r\n", call(app, app.handleBFCard, "a"))
	assert.Equal(t, ":3\r\n", call(app, app.handleBFLayers, "a"))
	for i := range 3 {
		assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "a", fmt.Sprintf("other-%d", i)))
	}

	// The source is untouched.
	assert.Equal(t, ":3\r\n", call(app, app.handleBFCard, "b"))
	assert.Equal(t, ":1\r\n", call(app, app.handleBFLayers, "b"))
	assert.Equal(t, ":0\r\n", call(app, app.handleBFExists, "b", "item-0"))

	// Later adds to the destination do not leak into the source.
	call(app, app.handleBFAdd, "a", "after-merge")
	assert.Equal(t, ":0\r\n", call(app, app.handleBFExists, "b", "after-merge"))
}

func TestBFMergeCreatesDestination(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "src", 3)

	assert.Equal(t, "+OK\r\n", call(app, app.handleBFMerge, "dst", "src"))

	// A fresh default layer plus the copied one.
	assert.Equal(t, ":2\r\n", call(app, app.handleBFLayers, "dst"))
	assert.Equal(t, ":3\r\n", call(app, app.handleBFCard, "dst"))
	assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "dst", "item-2"))
}

func TestBFMergeErrors(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, "-ERR no such key\r\n", call(app, app.handleBFMerge, "dst", "nosrc"))
	assert.Nil(t, app.store.Get("dst"), "a failed merge must not create the destination")

	assert.Equal(t, "-ERR wrong number of arguments for 'BF.MERGE' command\r\n", call(app, app.handleBFMerge, "dst"))
}

func TestBFMergeSelf(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "bf", 5)

	assert.Equal(t, "+OK\r\n", call(app, app.handleBFMerge, "bf", "bf"))
	assert.Equal(t, ":4\r\n", call(app, app.handleBFLayers, "bf"))
	assert.Equal(t, ":10\r\n", call(app, app.handleBFCard, "bf"))
}

func TestBFAddAfterRepeatedSelfMerge(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "bf", 4)

	for range 10 {
		require.Equal(t, "+OK\r\n", call(app, app.handleBFMerge, "bf", "bf"))
	}
	require.Equal(t, ":1024\r\n", call(app, app.handleBFLayers, "bf"))

	assert.Equal(t, ":1\r\n", call(app, app.handleBFAdd, "bf", "missing-0"))
	assert.Equal(t, ":1025\r\n", call(app, app.handleBFLayers, "bf"))
	assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "bf", "missing-0"))
}

// TestBFMergeConcurrentOppositeDirections would deadlock without ordered
// locking of the two entries.
func TestBFMergeConcurrentOppositeDirections(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "a", 1)
	addItems(t, app, "b", 1)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				call(app, app.handleBFMerge, "a", "b")
			} else {
				call(app, app.handleBFMerge, "b", "a")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "a", "item-0"))
	assert.Equal(t, ":1\r\n", call(app, app.handleBFExists, "b", "item-0"))
}

func TestBFConcurrentAdds(t *testing.T) {
	app := newTestApp(t)

	const (
		workers = 8
		perW    = 50
	)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perW {
				call(app, app.handleBFAdd, "shared", fmt.Sprintf("w%d-%d", w, i))
			}
		}()
	}
	wg.Wait()

	entry := app.store.Get("shared")
	require.NotNil(t, entry)

	_ = entry.With(func(sf *bloom.ScalableFilter) error {
		for w := range workers {
			for i := range perW {
				assert.True(t, sf.CheckString(fmt.Sprintf("w%d-%d", w, i)))
			}
		}
		assert.LessOrEqual(t, sf.Count(), uint64(workers*perW))
		return nil
	})
}
