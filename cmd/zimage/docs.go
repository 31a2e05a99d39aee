package main

// General API documentation for swaggo. Regenerate internal/apidocs with
// `swag init -g cmd/zimage/docs.go -o internal/apidocs`.
//
// @title           Z-Image Studio API
// @version         1.0
// @description     Local text-to-image generation with LoRA management and history.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
