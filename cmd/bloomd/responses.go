// responses.go encodes replies.
//
// Every command answers with one of a few shapes: a flag (BF.ADD,
// BF.EXISTS), one flag per item (BF.MADD, BF.MEXISTS, BF.INSERT), a count
// (BF.CARD, BF.LAYERS, DEL, MEMORY USAGE), a text report (INFO, BF.INFO),
// OK, or an error. Each shape is encoded into one slice and handed to the
// connection writer in a single Write.

package main

import (
	"io"
	"strconv"
)

var (
	replyOK    = []byte("+OK\r\n")
	replyPong  = []byte("+PONG\r\n")
	replyTrue  = []byte(":1\r\n")
	replyFalse = []byte(":0\r\n")
	replyNull  = []byte("$-1\r\n")
)

// reply hands one encoded reply to the connection writer. The writer is a
// bufio.Writer whose errors are sticky, so a failed write surfaces on the
// next Flush and closes the connection there.
func reply(w io.Writer, b []byte) {
	_, _ = w.Write(b)
}

// flagReply encodes an insertion or membership result as :1 or :0.
func flagReply(v bool) []byte {
	if v {
		return replyTrue
	}
	return replyFalse
}

// flagsReply encodes one flag per item as an array of :1 and :0, in item
// order.
func flagsReply(flags []bool) []byte {
	buf := make([]byte, 0, 16+len(flags)*len(replyTrue))

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(flags)), 10)
	buf = append(buf, '\r', '\n')

	for _, v := range flags {
		buf = append(buf, flagReply(v)...)
	}

	return buf
}

// countReply encodes a non-negative count as a RESP integer.
func countReply(n uint64) []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, n, 10)
	return append(buf, '\r', '\n')
}

// textReply encodes s as a bulk string. It is binary safe.
func textReply(s string) []byte {
	buf := make([]byte, 0, len(s)+16)
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

// errorReply encodes msg as a RESP error. msg carries its own prefix, such
// as "ERR".
func errorReply(msg string) []byte {
	buf := make([]byte, 0, len(msg)+3)
	buf = append(buf, '-')
	buf = append(buf, msg...)
	return append(buf, '\r', '\n')
}
