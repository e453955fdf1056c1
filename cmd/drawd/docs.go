package main

// General API documentation for swaggo. Generate with `swag init -g cmd/drawd/docs.go`.
//
// @title           drawd API
// @version         1.0
// @description     HTTP API for queued image drawing across pooled engines and AI-assisted prompt templates.
//
// @contact.name   drawd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey  AdminToken
// @in                          header
// @name                        X-Admin-Token
