//go:build swagger

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo holds the API description served at /swagger/doc.json.
// docTemplate follows the annotations in cmd/gatewayd/docs.go.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "gatewayd API",
	Description:      "OpenAI-compatible multiplexed inference gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/chat/completions": {"post": {"summary": "Create a chat completion", "consumes": ["application/json"], "produces": ["application/json", "text/event-stream"], "responses": {"200": {"description": "OK"}, "400": {"description": "invalid_request"}, "404": {"description": "model_not_found"}, "429": {"description": "too_busy"}, "502": {"description": "engine_error"}, "503": {"description": "engine_unavailable or initialization_error"}, "504": {"description": "timeout"}}}},
        "/v1/ocr": {"post": {"summary": "Read text from an image", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "invalid_request"}, "404": {"description": "model_not_found"}, "429": {"description": "too_busy"}, "502": {"description": "engine_error"}, "503": {"description": "engine_unavailable or initialization_error"}, "504": {"description": "timeout"}}}},
        "/v1/models": {"get": {"summary": "List models", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/v1/load": {"get": {"summary": "Replica load signal", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/health": {"get": {"summary": "Aggregate health", "produces": ["application/json"], "responses": {"200": {"description": "healthy"}, "503": {"description": "unhealthy"}}}},
        "/status": {"get": {"summary": "Replica status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}}
    }
}`

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI at /swagger/*.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
