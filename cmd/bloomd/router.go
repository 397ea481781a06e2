package main

import (
	"fmt"
	"io"
	"strings"
)

// CommandHandler writes the reply for one command. args excludes the
// command name and is owned by the handler for the duration of the call.
type CommandHandler func(w io.Writer, args [][]byte)

// Router maps upper-cased command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers handler under name. Lookup is case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch runs the handler for req[0]. Empty requests are ignored.
func (r *Router) Dispatch(app *application, w io.Writer, req [][]byte) {
	if len(req) == 0 {
		return
	}

	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(string(req[0]))

	handler, found := r.handlers[name]
	if !found {
		app.unknownCommandResponse(w, name)
		return
	}

	handler(w, req[1:])
}

func (app *application) unknownCommandResponse(w io.Writer, name string) {
	reply(w, errorReply(fmt.Sprintf("ERR unknown command '%s'", name)))
}

func (app *application) wrongNumberOfArgsResponse(w io.Writer, name string) {
	reply(w, errorReply(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name)))
}

// errorResponse replies with err prefixed by ERR.
func (app *application) errorResponse(w io.Writer, err error) {
	reply(w, errorReply("ERR "+err.Error()))
}

func (app *application) commands() *Router {
	router := NewRouter()

	router.Handle("PING", app.handlePing)
	router.Handle("INFO", app.handleInfo)
	router.Handle("DEL", app.handleDel)
	router.Handle("MEMORY", app.handleMemory)

	router.Handle("BF.RESERVE", app.handleBFReserve)
	router.Handle("BF.ADD", app.handleBFAdd)
	router.Handle("BF.MADD", app.handleBFMAdd)
	router.Handle("BF.EXISTS", app.handleBFExists)
	router.Handle("BF.INSERT", app.handleBFInsert)
	router.Handle("BF.MEXISTS", app.handleBFMExists)
	router.Handle("BF.CARD", app.handleBFCard)
	router.Handle("BF.LAYERS", app.handleBFLayers)
	router.Handle("BF.INFO", app.handleBFInfo)
	router.Handle("BF.RESET", app.handleBFReset)
	router.Handle("BF.MERGE", app.handleBFMerge)

	return router
}
