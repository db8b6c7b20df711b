/*
Package server implements msgpack IPC for symbol search.

The server reads msgpack-encoded requests from stdin and writes msgpack
responses to stdout, one value per message. A documentation front end (or an
editor plugin) keeps the process alive for a session and sends a search
request on every keystroke.

# IPC

Every request carries an ID that is echoed back. Search requests use:

	{"id": "q1", "q": "mu_", "l": 20}

and are answered with groups in sorted key order:

	{"id": "q1", "g": [{"k": "mu_n", "n": "mu_n", "o": [{"scope": "m_global_parameters", "anchor": "#a782"}]},
	                   {"k": "mu_v", "n": "mu_v", "o": [...two occurrences...]}], "c": 2, "t": 12}

"t" is the time taken in microseconds. An empty query yields an empty group list.

Actions manage the loaded index:

	{"id": "a1", "action": "reload"}
	{"id": "a2", "action": "stats"}
	{"id": "a3", "action": "lookup", "q": "mu_v"}

Failures are reported as {"id", "e", "c"} frames; the server keeps running.
*/
package server

import "github.com/bastiangx/symserve/pkg/symbols"

// Supported actions.
const (
	ActionSearch = ""
	ActionReload = "reload"
	ActionStats  = "stats"
	ActionLookup = "lookup"
)

// Request is any client message. Action selects the operation; an empty
// action is a search.
type Request struct {
	ID     string `msgpack:"id"`
	Action string `msgpack:"action,omitempty"`
	Query  string `msgpack:"q,omitempty"`
	Limit  int    `msgpack:"l,omitempty"`
}

// SearchResponse answers search and lookup requests.
type SearchResponse struct {
	ID        string                `msgpack:"id"`
	Groups    []symbols.ResultGroup `msgpack:"g"`
	Count     int                   `msgpack:"c"`
	TimeTaken int64                 `msgpack:"t"`
}

// ActionResponse answers reload and stats, and announces readiness.
type ActionResponse struct {
	ID         string         `msgpack:"id,omitempty"`
	Status     string         `msgpack:"status"`
	Generation uint64         `msgpack:"generation,omitempty"`
	Index      *symbols.Stats `msgpack:"index,omitempty"`
	Cache      map[string]int `msgpack:"cache,omitempty"`
}

// ErrorResponse holds basic error information for failed requests
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
