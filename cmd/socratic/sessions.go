package main

import (
	"fmt"
	"strings"

	"github.com/danshapiro/socratic/internal/config"
	"github.com/danshapiro/socratic/internal/storage"
)

func sessionsCmd(args []string) {
	if len(args) < 1 {
		usage()
		fatal("sessions requires a subcommand")
	}
	switch args[0] {
	case "list":
		sessionsList(args[1:])
	case "delete":
		sessionsDelete(args[1:])
	default:
		usage()
		fatal("unknown sessions subcommand: %s", args[0])
	}
}

func sessionsList(args []string) {
	store := openStore(args, nil)
	snaps, err := store.LoadAllSessions()
	if err != nil {
		fatal("load sessions: %v", err)
	}
	if len(snaps) == 0 {
		fmt.Println("no stored sessions")
		return
	}
	for _, s := range snaps {
		fmt.Printf("%s  %s  %d turns  updated %s\n", s.ID, s.Topic, len(s.Turns), s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func sessionsDelete(args []string) {
	var id string
	store := openStore(args, func(i int) (int, bool) {
		if args[i] == "--id" {
			if i+1 >= len(args) {
				fatal("--id requires a value")
			}
			id = args[i+1]
			return i + 1, true
		}
		return i, false
	})
	if strings.TrimSpace(id) == "" {
		fatal("--id is required")
	}
	if err := store.DeleteSession(id); err != nil {
		fatal("delete session: %v", err)
	}
	fmt.Printf("deleted %s\n", id)
}

// openStore parses --config (and any extra flags via the callback) and opens
// the session store.
func openStore(args []string, extra func(i int) (int, bool)) *storage.Store {
	var configPath string
	for i := 0; i < len(args); i++ {
		if extra != nil {
			if ni, handled := extra(i); handled {
				i = ni
				continue
			}
		}
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		default:
			fatal("unknown flag: %s", args[i])
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		fatal("open session store: %v", err)
	}
	return store
}
