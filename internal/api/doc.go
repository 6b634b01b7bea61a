// Package api handles incoming HTTP requests, request validation, and
// response formatting. It adapts the job endpoints (start, stop) and the
// health check to the service layer, translating service errors into HTTP
// status codes and safe client messages.
package api
