package main

// General API documentation for swaggo.
//
// @title           onnxd API
// @version         1.0
// @description     In-process inference engine with an OpenAI-compatible chat API.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
