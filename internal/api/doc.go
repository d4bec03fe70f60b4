// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It translates HTTP concerns into admission
// service calls and maps the service's rejection errors onto status codes:
// quota denials become 429, active-task conflicts become 409.
package api
