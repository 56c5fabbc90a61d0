package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/weallnet/weall/rules"
)

type APIConfig struct {
	APIEndpoint string `envconfig:"LISTEN_ADDRESS" default:"localhost:8080"`
	RulesPath   string `envconfig:"RULES_PATH" default:"rules.yaml"`
}

func Serve(ctx context.Context, cfg APIConfig, interp *rules.Interpreter) error {
	r := gin.Default()
	registerRoutes(r, interp)
	return r.Run(cfg.APIEndpoint)
}
