// supportchat is a terminal client for the chat service. Customer mode
// attaches to the caller's own thread; agent mode lists threads and lets
// the operator switch between them.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/barchshimelis/supportchat/pkg/config"
	"github.com/barchshimelis/supportchat/pkg/controller"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/session"
	"github.com/barchshimelis/supportchat/pkg/store"
)

func main() {
	_ = godotenv.Load(".env")
	_, cacheVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level, cfg.Logging.Format)

	cachePath := cfg.Storage.CachePath
	if setFlags["cache"] || cachePath == "" {
		cachePath = cacheVal
	}
	// The offline cache is optional for the client; start without it if
	// the path is busy (another client instance may hold the lock).
	if err := store.Open(cachePath); err != nil {
		logger.Warn("cache_unavailable", "path", cachePath, "error", err)
	} else {
		defer store.Close()
	}

	role := models.Role(cfg.Client.Role)
	if !role.Valid() {
		role = models.RoleCustomer
	}
	baseURL := cfg.Client.BaseURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8090"
	}

	ctrl, err := controller.New(controller.Options{
		BaseURL:           baseURL,
		WSBase:            cfg.Client.WSBase,
		Role:              role,
		Bootstrap:         controller.BootstrapMode(cfg.Client.Bootstrap),
		SendViaSocket:     cfg.Client.Bootstrap == "socket",
		InlineAttachments: cfg.Client.Attachments.Mode == "inline",
		ReconnectDelay:    cfg.ReconnectDelay(),
		PollInterval:      cfg.PollInterval(),
		Hooks:             printHooks(role),
		OnThreads:         printThreads,
	})
	if err != nil {
		log.Fatalf("client setup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("start failed: %v", err)
	}
	defer ctrl.Close()

	fmt.Printf("connected to %s as %s; type /help for commands\n", baseURL, role)
	repl(ctx, ctrl, role)
}

func printHooks(role models.Role) session.Hooks {
	return session.Hooks{
		OnReplace: func(msgs []models.Message) {
			for _, m := range msgs {
				printMessage(m, role)
			}
		},
		OnMessage: func(m models.Message) { printMessage(m, role) },
		OnRemove: func(id string) {
			fmt.Printf("  [message %s removed]\n", id)
		},
		OnPeerRead: func(models.Role) { fmt.Println("  [seen]") },
		OnTyping:   func(models.Role) { fmt.Println("  [peer is typing]") },
		OnComposer: func(enabled bool) {
			if !enabled {
				fmt.Println("  [composer locked]")
			}
		},
		OnServerError: func(detail string) {
			fmt.Printf("  [server: %s]\n", detail)
		},
	}
}

func printMessage(m models.Message, self models.Role) {
	who := string(m.Sender)
	if m.Sender == self {
		who = "you"
	}
	if m.Attachment != nil {
		fmt.Printf("%s %s: [%s, %d bytes] %s\n",
			m.CreatedAt.Local().Format("15:04"), who,
			m.Attachment.Name, m.Attachment.Size, m.Attachment.URL)
		return
	}
	fmt.Printf("%s %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
}

func printThreads(threads []models.Thread, activeID string) {
	for _, t := range threads {
		marker := " "
		if t.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%s %s  %-16s unread=%d  last=%s\n",
			marker, t.ID, t.Customer,
			t.UnreadFor(models.RoleAgent),
			t.LastActivity.Local().Format("Jan 2 15:04"))
	}
}

func repl(ctx context.Context, ctrl *controller.Controller, role models.Role) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendText(ctx, ctrl, line)
			continue
		}
		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "help":
			fmt.Println("/threads  /open <id>  /upload <path>  /delete <msg-id>  /quit")
		case "threads":
			if reg := ctrl.Registry(); reg != nil {
				reg.RequestRefresh()
			}
		case "open":
			id := strings.TrimSpace(arg)
			// Render the cached snapshot right away; the fetch that
			// follows replaces it with the authoritative history.
			if cached := controller.CachedHistory(id); len(cached) > 0 {
				fmt.Printf("  [cached %d messages]\n", len(cached))
				for _, m := range cached {
					printMessage(m, role)
				}
			}
			if err := ctrl.Select(ctx, id); err != nil {
				fmt.Printf("  [open failed: %v]\n", err)
			}
		case "upload":
			sendFile(ctx, ctrl, strings.TrimSpace(arg))
		case "delete":
			err := ctrl.DeleteMessage(ctx, strings.TrimSpace(arg), confirmPrompt)
			if err != nil {
				fmt.Printf("  [delete failed: %v]\n", err)
			}
		case "quit", "exit":
			return
		default:
			fmt.Printf("  [unknown command /%s]\n", cmd)
		}
	}
}

func sendText(ctx context.Context, ctrl *controller.Controller, text string) {
	sess := ctrl.Active()
	if sess == nil {
		fmt.Println("  [no thread open; /open <id> first]")
		return
	}
	if err := sess.SendText(ctx, text); err != nil {
		fmt.Printf("  [send failed: %v]\n", err)
	}
}

func sendFile(ctx context.Context, ctrl *controller.Controller, path string) {
	sess := ctrl.Active()
	if sess == nil {
		fmt.Println("  [no thread open]")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("  [read failed: %v]\n", err)
		return
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "application/octet-stream"
	}
	if err := sess.SendFile(ctx, filepath.Base(path), mt, data); err != nil {
		fmt.Printf("  [upload failed: %v]\n", err)
	}
}

func confirmPrompt() bool {
	fmt.Print("delete this message? [y/N] ")
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(sc.Text()), "y")
}
