// Package terminal connects a local terminal to a command running in a
// remote container.
//
// It covers everything between "a container was found" and "the process
// exits": deciding whether to allocate a TTY, building the remote shell
// command, dialing the exec websocket and running the interactive session.
//
// # ARCHITECTURE
//
//	stdin -> input worker -> escape splitter --+
//	                                           +-> Merge -> driver -> websocket
//	websocket -> reader goroutine -------------+              \-> stdout
//
// Key components:
//   - Lifecycle: Resolving, Authenticating, Executing, Connected, Closed
//   - Transport: gorilla/websocket connection carrying base64 text frames
//   - Session: raw mode via golang.org/x/term, escape handling, the driver
//   - ResolveTTY, BuildCommand, Select: the policies applied before exec
//
// # TERMINAL CONTROL
//
// Escape sequences are recognized only at the start of a line:
//
//	~.   terminate the connection
//	~V   decrease verbosity
//	~v   increase verbosity
//	~^Z  suspend
//	~?   list escapes
//	~~   send a literal escape character
//
// The escape character is configurable and can be disabled entirely.
//
// # THREAD SAFETY
//
// The input worker owns the only blocking read of stdin and the transport
// reader owns the only websocket read. The driver is the sole writer to
// stdout and to the websocket; pings are answered by the transport's ping
// handler, which gorilla/websocket allows to run concurrently with writes.
package terminal
