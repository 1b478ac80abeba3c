package main

import (
	"strings"

	"github.com/danshapiro/socratic/internal/config"
	"github.com/danshapiro/socratic/internal/llm"
	"github.com/danshapiro/socratic/internal/llm/gemini"
	"github.com/danshapiro/socratic/internal/server"
	"github.com/danshapiro/socratic/internal/storage"
)

func serveCmd(args []string) {
	var configPath string
	var listen string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		case "--listen":
			i++
			if i >= len(args) {
				fatal("--listen requires a value")
			}
			listen = args[i]
		default:
			fatal("unknown flag: %s", args[i])
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if strings.TrimSpace(listen) == "" {
		listen = cfg.Listen
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		fatal("open session store: %v", err)
	}

	srv := server.New(server.Config{
		Addr:        listen,
		Credentials: cfg.Credentials,
		AgentConfig: cfg.AgentConfig(),
		Factory: func(credential string) llm.Client {
			return gemini.New(credential, cfg.BaseURL)
		},
		Store: store,
	})
	if err := srv.ListenAndServe(); err != nil {
		fatal("serve: %v", err)
	}
}
