package main

//go:generate swag init -g cmd/battles/main.go -o docs

// @title           Battles API
// @version         0.1.0
// @description     Timed price battles between assets: predictions, settlement, points ledger and verification.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
