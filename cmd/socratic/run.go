package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/danshapiro/socratic/internal/agent"
	"github.com/danshapiro/socratic/internal/attach"
	"github.com/danshapiro/socratic/internal/config"
	"github.com/danshapiro/socratic/internal/llm"
	"github.com/danshapiro/socratic/internal/llm/gemini"
	"github.com/danshapiro/socratic/internal/storage"
	"github.com/danshapiro/socratic/internal/turnlog"
)

func runCmd(args []string) {
	var topic string
	var configPath string
	var attachPatterns []string
	var maxTurns int
	var noAuto bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--topic":
			i++
			if i >= len(args) {
				fatal("--topic requires a value")
			}
			topic = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		case "--attach":
			i++
			if i >= len(args) {
				fatal("--attach requires a glob pattern")
			}
			attachPatterns = append(attachPatterns, args[i])
		case "--max-turns":
			i++
			if i >= len(args) {
				fatal("--max-turns requires a value")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				fatal("--max-turns must be a positive integer")
			}
			maxTurns = n
		case "--no-auto":
			noAuto = true
		default:
			fatal("unknown flag: %s", args[i])
		}
	}
	if strings.TrimSpace(topic) == "" {
		fatal("--topic is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	agentCfg := cfg.AgentConfig()
	if maxTurns > 0 {
		agentCfg.MaxTurns = maxTurns
	}
	if noAuto {
		agentCfg.AutoContinue = false
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		fatal("open session store: %v", err)
	}

	factory := func(credential string) llm.Client {
		return gemini.New(credential, cfg.BaseURL)
	}
	sess, err := agent.NewSession(cfg.Credentials, factory, store, agentCfg)
	if err != nil {
		fatal("create session: %v", err)
	}

	var attachments []turnlog.Attachment
	if len(attachPatterns) > 0 {
		attachments, err = attach.Load(".", attachPatterns)
		if err != nil {
			fatal("load attachments: %v", err)
		}
		for _, a := range attachments {
			fmt.Fprintf(os.Stderr, "attached %s (%s, %d bytes)\n", a.Name, a.MIMEType, len(a.Data))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Render events on the main goroutine; drive the session from another.
	loopDone := make(chan error, 1)
	loopRunning := true
	go func() {
		loopDone <- sess.Start(ctx, topic)
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for ev := range sess.Events() {
		renderEvent(ev)

		if ev.Kind != agent.EventStateChange {
			continue
		}
		switch agent.State(fmt.Sprint(ev.Data["state"])) {
		case agent.StateFinished, agent.StateIdle:
			if loopRunning {
				<-loopDone
				loopRunning = false
			}
			sess.Close()
		case agent.StatePausedUserInput:
			if loopRunning {
				<-loopDone
				loopRunning = false
			}
			fmt.Fprint(os.Stderr, "\nyour message (empty to finish) > ")
			if !stdin.Scan() || strings.TrimSpace(stdin.Text()) == "" {
				sess.Finish()
				sess.Close()
				continue
			}
			text := stdin.Text()
			msgAttachments := attachments
			attachments = nil // attach only to the first user message
			loopRunning = true
			go func() {
				loopDone <- sess.Send(ctx, text, msgAttachments)
			}()
		}
	}
}

func renderEvent(ev agent.Event) {
	switch ev.Kind {
	case agent.EventTurnUpdated, agent.EventTurnAppended:
		if streaming, _ := ev.Data["is_streaming"].(bool); streaming {
			return
		}
		content, _ := ev.Data["content"].(string)
		if strings.TrimSpace(content) == "" {
			return
		}
		fmt.Printf("\n[%s]\n%s\n", ev.Data["role"], content)
	case agent.EventCredentialActive:
		if cred := fmt.Sprint(ev.Data["credential"]); cred != "" && cred != "<nil>" {
			fmt.Fprintf(os.Stderr, "using credential %s\n", cred)
		}
	case agent.EventError:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Data["error"])
	case agent.EventStateChange:
		fmt.Fprintf(os.Stderr, "-- %s --\n", ev.Data["state"])
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
