//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// swaggerSpec is a condensed OpenAPI 2 document for the routes in NewMux.
var swaggerSpec = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "onnxd API",
	Description:      "In-process inference engine with an OpenAI-compatible chat API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

const swaggerTemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{escape .Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "paths": {
    "/loadmodel": {"post": {"tags": ["models"], "summary": "Load a model", "consumes": ["application/json"], "produces": ["application/json"],
      "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "500": {"description": "Internal Server Error"}}}},
    "/unloadmodel": {"post": {"tags": ["models"], "summary": "Unload the model", "produces": ["application/json"],
      "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
    "/modelstatus": {"get": {"tags": ["models"], "summary": "Model status", "produces": ["application/json"],
      "responses": {"409": {"description": "Conflict"}}}},
    "/models": {"get": {"tags": ["models"], "summary": "List loaded models", "produces": ["application/json"],
      "responses": {"200": {"description": "OK"}}}},
    "/models/available": {"get": {"tags": ["models"], "summary": "List models on disk", "produces": ["application/json"],
      "responses": {"200": {"description": "OK"}}}},
    "/v1/models": {"get": {"tags": ["models"], "summary": "List loaded models", "produces": ["application/json"],
      "responses": {"200": {"description": "OK"}}}},
    "/v1/embeddings": {"post": {"tags": ["inference"], "summary": "Create embeddings", "consumes": ["application/json"], "produces": ["application/json"],
      "responses": {"409": {"description": "Conflict"}}}},
    "/v1/chat/completions": {"post": {"tags": ["inference"], "summary": "Create a chat completion", "consumes": ["application/json"], "produces": ["application/json", "text/event-stream"],
      "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}, "500": {"description": "Internal Server Error"}, "503": {"description": "Service Unavailable"}}}}
  }
}`

func init() {
	swag.Register(swaggerSpec.InstanceName(), swaggerSpec)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
