package httpserver

import "net/http"

// endpointRoute binds one method and chi path pattern to a handler.
type endpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// endpoint groups the routes of one API surface; Config.EndpointKeys
// selects which surfaces a server mounts.
type endpoint interface {
	Name() string
	Routes() []endpointRoute
}
