// Package docs is regenerated by swag from the annotations in cmd/battles.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/auth/nonce": {"get": {"tags": ["auth"], "summary": "Issue a login nonce", "parameters": [{"type": "string", "name": "wallet", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "429": {"description": "Too Many Requests"}}}},
        "/api/auth/verify": {"post": {"tags": ["auth"], "summary": "Exchange a signed nonce for a session token", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/battles": {
            "get": {"tags": ["battles"], "summary": "List battles", "parameters": [{"type": "string", "name": "status", "in": "query"}, {"type": "string", "name": "asset", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}, {"type": "integer", "name": "offset", "in": "query"}], "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["battles"], "summary": "Create a battle", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}}}
        },
        "/api/battles/{id}": {"get": {"tags": ["battles"], "summary": "Get a battle", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/battles/{id}/prices": {"get": {"tags": ["battles"], "summary": "Live prices for an active battle", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}}},
        "/api/battles/{id}/audit": {"get": {"tags": ["battles"], "summary": "Settlement audit trail", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/battles/{id}/settle": {"post": {"security": [{"BearerAuth": []}], "tags": ["battles"], "summary": "Settle a battle now", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}},
        "/api/predictions": {"post": {"security": [{"BearerAuth": []}], "tags": ["predictions"], "summary": "Submit or change a pick", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}},
        "/api/verify/{battleId}": {"get": {"tags": ["verify"], "summary": "Independent verification data for a settled battle", "parameters": [{"type": "integer", "name": "battleId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}}},
        "/api/cron/manage-battles": {"post": {"tags": ["cron"], "summary": "Run one lifecycle tick", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/cron/schedule-daily-battles": {"post": {"tags": ["cron"], "summary": "Generate the daily battles", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/ledger/export": {"get": {"security": [{"BearerAuth": []}], "tags": ["ledger"], "summary": "Export signed ledger entries", "parameters": [{"type": "string", "name": "participant", "in": "query"}, {"type": "string", "name": "format", "in": "query"}], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "403": {"description": "Forbidden"}}}},
        "/api/ledger/entries/{id}/verify": {"get": {"tags": ["ledger"], "summary": "Check a ledger entry signature", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/me/points": {"get": {"security": [{"BearerAuth": []}], "tags": ["ledger"], "summary": "Current participant points", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/api/leaderboard": {"get": {"tags": ["ledger"], "summary": "Points leaderboard", "parameters": [{"type": "string", "name": "period", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK"}}}}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Battles API",
	Description:      "Timed price battles between assets: predictions, settlement, points ledger and verification.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
