package server

//go:generate swag init -g internal/server/server.go -o internal/server/docs

// @title permafind API
// @version 0.1
// @description Start permalink discovery runs, follow their progress and read stored reports.
// @contact.name permafind maintainers
// @contact.url https://github.com/raysh454/permafind
// @BasePath /
