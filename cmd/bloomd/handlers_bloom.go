// handlers_bloom.go implements the BF.* commands on top of the keyspace.
//
// Concurrency Strategy
// ====================
// Every command that touches a filter does so inside Entry.With, holding the
// entry mutex for the whole command. BF.MADD and BF.MEXISTS therefore see a
// consistent filter across all their items.
//
// BF.MERGE needs two entries. They are locked in key order so that two
// concurrent merges in opposite directions cannot deadlock. Merging a key
// into itself takes the single lock once.
//
// Duplicate Detection
// ===================
// BF.ADD and BF.MADD reply 1 when the item was not reported present before
// the call and 0 otherwise. An item already reported present is not added
// again, so BF.CARD counts distinct-looking items, not calls.
//
// BF.INSERT with ALWAYS inserts every item unconditionally, so BF.CARD
// counts every insertion made through it.

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"scalebloom.lopezb.com/internal/bloom"
)

var (
	errItemExists   = errors.New("item exists")
	errNoSuchKey    = errors.New("no such key")
	errNotFloat     = errors.New("value is not a valid float")
	errNotInteger   = errors.New("value is not an integer or out of range")
	errMissingItems = errors.New("missing ITEMS")
)

// newFilter creates a filter from the server's filter configuration. The
// configuration was validated at startup.
func (app *application) newFilter() (*bloom.ScalableFilter, error) {
	return bloom.NewScalableFilter(app.filter)
}

// handleBFReserve handles the BF.RESERVE command.
// Syntax: BF.RESERVE key error_rate capacity [tightening_ratio]
//
// Creates an empty filter with explicit parameters. Hash function and any
// omitted parameter come from the server configuration.
func (app *application) handleBFReserve(w io.Writer, args [][]byte) {
	if len(args) != 3 && len(args) != 4 {
		app.wrongNumberOfArgsResponse(w, "BF.RESERVE")
		return
	}

	key := string(args[0])
	cfg := app.filter

	errorRate, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil {
		app.errorResponse(w, errNotFloat)
		return
	}
	cfg.ErrorRate = errorRate

	capacity, err := strconv.ParseUint(string(args[2]), 10, 64)
	if err != nil {
		app.errorResponse(w, errNotInteger)
		return
	}
	cfg.InitialCapacity = capacity

	if len(args) == 4 {
		ratio, err := strconv.ParseFloat(string(args[3]), 64)
		if err != nil {
			app.errorResponse(w, errNotFloat)
			return
		}
		cfg.TighteningRatio = ratio
	}

	sf, err := bloom.NewScalableFilter(cfg)
	if err != nil {
		app.errorResponse(w, err)
		return
	}

	if !app.store.Create(key, sf) {
		app.errorResponse(w, errItemExists)
		return
	}

	app.logger.Debug().
		Str("key", key).
		Float64("error_rate", cfg.ErrorRate).
		Uint64("capacity", cfg.InitialCapacity).
		Float64("tightening_ratio", cfg.TighteningRatio).
		Msg("filter reserved")

	reply(w, replyOK)
}

// addIfAbsent adds item unless the filter already reports it present, and
// reports whether it was added.
func addIfAbsent(sf *bloom.ScalableFilter, item []byte) (bool, error) {
	if sf.Check(item) {
		return false, nil
	}

	if err := sf.Add(item); err != nil {
		return false, err
	}

	return true, nil
}

// addAlways adds item unconditionally and reports whether the filter
// considered it absent before.
func addAlways(sf *bloom.ScalableFilter, item []byte) (bool, error) {
	absent := !sf.Check(item)

	if err := sf.Add(item); err != nil {
		return false, err
	}

	return absent, nil
}

// handleBFAdd handles the BF.ADD command.
// Syntax: BF.ADD key item
//
// Creates the filter with the server defaults when key is missing.
func (app *application) handleBFAdd(w io.Writer, args [][]byte) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.ADD")
		return
	}

	key, item := string(args[0]), args[1]

	entry, err := app.store.GetOrCreate(key, app.newFilter)
	if err != nil {
		app.errorResponse(w, err)
		return
	}

	var added bool
	err = entry.With(func(sf *bloom.ScalableFilter) error {
		ok, err := addIfAbsent(sf, item)
		added = ok
		return err
	})
	if err != nil {
		app.logger.Error().Err(err).Str("key", key).Msg("filter growth failed")
		app.errorResponse(w, err)
		return
	}

	reply(w, flagReply(added))
}

// handleBFMAdd handles the BF.MADD command.
// Syntax: BF.MADD key item [item ...]
//
// Replies with one 0/1 per item, in order. If the filter cannot grow, items
// before the failing one stay inserted and an error is returned.
func (app *application) handleBFMAdd(w io.Writer, args [][]byte) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MADD")
		return
	}

	key, items := string(args[0]), args[1:]

	entry, err := app.store.GetOrCreate(key, app.newFilter)
	if err != nil {
		app.errorResponse(w, err)
		return
	}

	app.insertItems(w, key, entry, items, addIfAbsent)
}

// insertItems runs add on every item under the entry lock and replies with
// one flag per item.
func (app *application) insertItems(w io.Writer, key string, entry *Entry, items [][]byte, add func(*bloom.ScalableFilter, []byte) (bool, error)) {
	results := make([]bool, len(items))
	err := entry.With(func(sf *bloom.ScalableFilter) error {
		for i, item := range items {
			added, err := add(sf, item)
			if err != nil {
				return err
			}
			results[i] = added
		}
		return nil
	})
	if err != nil {
		app.logger.Error().Err(err).Str("key", key).Msg("filter growth failed")
		app.errorResponse(w, err)
		return
	}

	reply(w, flagsReply(results))
}

type insertOptions struct {
	noCreate bool
	always   bool
}

// parseInsertOptions splits the arguments after the key into options and
// the items following ITEMS.
func parseInsertOptions(args [][]byte) (insertOptions, [][]byte, error) {
	var opts insertOptions

	for i, arg := range args {
		switch strings.ToUpper(string(arg)) {
		case "NOCREATE":
			opts.noCreate = true
		case "ALWAYS":
			opts.always = true
		case "ITEMS":
			if i == len(args)-1 {
				return opts, nil, errMissingItems
			}
			return opts, args[i+1:], nil
		default:
			return opts, nil, fmt.Errorf("unknown option '%s'", arg)
		}
	}

	return opts, nil, errMissingItems
}

// handleBFInsert handles the BF.INSERT command.
// Syntax: BF.INSERT key [NOCREATE] [ALWAYS] ITEMS item [item ...]
//
// Without options it behaves like BF.MADD. NOCREATE fails with an error
// instead of creating a missing key. ALWAYS inserts every item, including
// ones the filter already reports present, and each flag then tells whether
// the item was absent before it was inserted.
func (app *application) handleBFInsert(w io.Writer, args [][]byte) {
	if len(args) < 3 {
		app.wrongNumberOfArgsResponse(w, "BF.INSERT")
		return
	}

	key := string(args[0])

	opts, items, err := parseInsertOptions(args[1:])
	if errors.Is(err, errMissingItems) {
		app.wrongNumberOfArgsResponse(w, "BF.INSERT")
		return
	}
	if err != nil {
		app.errorResponse(w, err)
		return
	}

	var entry *Entry
	if opts.noCreate {
		if entry = app.store.Get(key); entry == nil {
			app.errorResponse(w, errNoSuchKey)
			return
		}
	} else if entry, err = app.store.GetOrCreate(key, app.newFilter); err != nil {
		app.errorResponse(w, err)
		return
	}

	add := addIfAbsent
	if opts.always {
		add = addAlways
	}

	app.insertItems(w, key, entry, items, add)
}

// handleBFExists handles the BF.EXISTS command.
// Syntax: BF.EXISTS key item
//
// Returns 1 if the item is possibly present, 0 if it is definitely absent or
// the key does not exist.
func (app *application) handleBFExists(w io.Writer, args [][]byte) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.EXISTS")
		return
	}

	key, item := string(args[0]), args[1]

	var found bool
	if entry := app.store.Get(key); entry != nil {
		_ = entry.With(func(sf *bloom.ScalableFilter) error {
			found = sf.Check(item)
			return nil
		})
	}

	reply(w, flagReply(found))
}

// handleBFMExists handles the BF.MEXISTS command.
// Syntax: BF.MEXISTS key item [item ...]
func (app *application) handleBFMExists(w io.Writer, args [][]byte) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MEXISTS")
		return
	}

	key, items := string(args[0]), args[1:]
	results := make([]bool, len(items))

	if entry := app.store.Get(key); entry != nil {
		_ = entry.With(func(sf *bloom.ScalableFilter) error {
			for i, item := range items {
				results[i] = sf.Check(item)
			}
			return nil
		})
	}

	reply(w, flagsReply(results))
}

// handleBFCard handles the BF.CARD command.
// Syntax: BF.CARD key
//
// Returns the number of items added, or 0 when key does not exist.
func (app *application) handleBFCard(w io.Writer, args [][]byte) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.CARD")
		return
	}

	var count uint64
	if entry := app.store.Get(string(args[0])); entry != nil {
		_ = entry.With(func(sf *bloom.ScalableFilter) error {
			count = sf.Count()
			return nil
		})
	}

	reply(w, countReply(count))
}

// handleBFLayers handles the BF.LAYERS command.
// Syntax: BF.LAYERS key
func (app *application) handleBFLayers(w io.Writer, args [][]byte) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.LAYERS")
		return
	}

	var layers int
	if entry := app.store.Get(string(args[0])); entry != nil {
		_ = entry.With(func(sf *bloom.ScalableFilter) error {
			layers = sf.LayerCount()
			return nil
		})
	}

	reply(w, countReply(uint64(layers)))
}

// handleBFInfo handles the BF.INFO command.
// Syntax: BF.INFO key
//
// Replies with a bulk string of field:value lines: one "# Filter" section
// followed by one "# Layer <i>" section per layer, oldest first.
func (app *application) handleBFInfo(w io.Writer, args [][]byte) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.INFO")
		return
	}

	entry := app.store.Get(string(args[0]))
	if entry == nil {
		app.errorResponse(w, errNoSuchKey)
		return
	}

	var st bloom.Stats
	_ = entry.With(func(sf *bloom.ScalableFilter) error {
		st = sf.Stats()
		return nil
	})

	reply(w, textReply(formatStats(st)))
}

func formatStats(st bloom.Stats) string {
	var b strings.Builder

	b.WriteString("# Filter\r\n")
	fmt.Fprintf(&b, "items:%d\r\n", st.Count)
	fmt.Fprintf(&b, "layers:%d\r\n", st.Layers)
	fmt.Fprintf(&b, "bytes:%d\r\n", st.TotalBytes)
	fmt.Fprintf(&b, "bytes_human:%s\r\n", humanize.IBytes(st.TotalBytes))
	fmt.Fprintf(&b, "bits:%d\r\n", st.TotalBits)
	fmt.Fprintf(&b, "bits_set:%d\r\n", st.BitsSet)
	fmt.Fprintf(&b, "fill_ratio:%.6f\r\n", st.FillRatio)
	fmt.Fprintf(&b, "error_rate:%g\r\n", st.ErrorRate)
	fmt.Fprintf(&b, "tightening_ratio:%g\r\n", st.TighteningRatio)
	fmt.Fprintf(&b, "initial_capacity:%d\r\n", st.InitialCapacity)
	fmt.Fprintf(&b, "estimated_error_rate:%g\r\n", st.EstimatedErrorRate)

	for _, ls := range st.PerLayer {
		fmt.Fprintf(&b, "# Layer %d\r\n", ls.Index)
		fmt.Fprintf(&b, "capacity:%d\r\n", ls.Capacity)
		fmt.Fprintf(&b, "items:%d\r\n", ls.Count)
		fmt.Fprintf(&b, "bytes:%d\r\n", ls.SizeBytes)
		fmt.Fprintf(&b, "bits:%d\r\n", ls.BitCount)
		fmt.Fprintf(&b, "hash_count:%d\r\n", ls.HashCount)
		fmt.Fprintf(&b, "bits_set:%d\r\n", ls.BitsSet)
		fmt.Fprintf(&b, "fill_ratio:%.6f\r\n", ls.FillRatio)
		fmt.Fprintf(&b, "error_budget:%g\r\n", ls.ErrorBudget)
		fmt.Fprintf(&b, "saturated:%t\r\n", ls.Saturated)
	}

	return b.String()
}

// handleBFReset handles the BF.RESET command.
// Syntax: BF.RESET key
//
// Drops every layer and rebuilds the first one with the filter's own
// parameters.
func (app *application) handleBFReset(w io.Writer, args [][]byte) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.RESET")
		return
	}

	entry := app.store.Get(string(args[0]))
	if entry == nil {
		app.errorResponse(w, errNoSuchKey)
		return
	}

	if err := entry.With(func(sf *bloom.ScalableFilter) error { return sf.Reset() }); err != nil {
		app.errorResponse(w, err)
		return
	}

	reply(w, replyOK)
}

// handleBFMerge handles the BF.MERGE command.
// Syntax: BF.MERGE dest src
//
// Appends copies of src's layers to dest. dest is created with the server
// defaults when missing. src is left unchanged.
func (app *application) handleBFMerge(w io.Writer, args [][]byte) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MERGE")
		return
	}

	destKey, srcKey := string(args[0]), string(args[1])

	src := app.store.Get(srcKey)
	if src == nil {
		app.errorResponse(w, errNoSuchKey)
		return
	}

	dest, err := app.store.GetOrCreate(destKey, app.newFilter)
	if err != nil {
		app.errorResponse(w, err)
		return
	}

	if err := mergeEntries(destKey, dest, srcKey, src); err != nil {
		app.errorResponse(w, err)
		return
	}

	app.logger.Debug().Str("dest", destKey).Str("src", srcKey).Msg("filters merged")

	reply(w, replyOK)
}

// mergeEntries merges src into dest holding both entry locks, taken in key
// order.
func mergeEntries(destKey string, dest *Entry, srcKey string, src *Entry) error {
	if dest == src {
		return dest.With(func(sf *bloom.ScalableFilter) error {
			return sf.Merge(sf)
		})
	}

	first, second := dest, src
	if srcKey < destKey {
		first, second = src, dest
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	return dest.filter.Merge(src.filter)
}
