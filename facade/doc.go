// Package facade is the public entry point of hipiol, an embeddable
// asynchronous TCP engine that serializes every I/O completion onto one
// goroutine.
//
// A Pool is configured, given its four handlers and started:
//
//	p := facade.New(nil)
//	p.SetClientHandlers(onAccepted, onDisconnected)
//	p.SetDataHandlers(onReceived, onSent)
//	p.StartListening(9000)
//
// Handlers receive a Controller that is valid for the duration of the call.
// Client handles obtained from it can be kept and used with Pool methods
// from any goroutine; handles of disconnected clients are silently ignored.
package facade
