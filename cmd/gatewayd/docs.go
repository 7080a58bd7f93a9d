package main

// General API documentation for swaggo. Regenerate with
// `swag init -g cmd/gatewayd/docs.go -d ./,./internal/httpapi,./pkg/types`.
//
// @title           gatewayd API
// @version         1.0
// @description     OpenAI-compatible chat completion gateway multiplexing independently initialized inference engines.
//
// @contact.name   gatewayd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
