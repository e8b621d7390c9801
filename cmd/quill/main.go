package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/auth"
	"github.com/quillchat/quill/internal/bridge"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/eventbus"
	"github.com/quillchat/quill/internal/events"
	"github.com/quillchat/quill/internal/notifications"
	"github.com/quillchat/quill/internal/notify"
	"github.com/quillchat/quill/internal/storage"
	"github.com/quillchat/quill/internal/transport"
	"github.com/quillchat/quill/internal/version"
	"github.com/quillchat/quill/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println("quill " + version.RichVersion())
			return nil
		}
	}

	logg := logger.Default(cfg.Debug)
	if cfg.Debug {
		logg.Sugar().Debugf("Config: ServerURL=%s, QuillHome=%s", cfg.ServerURL, cfg.QuillHome)
	}

	token, err := auth.LoadToken(cfg.AccessKey)
	if err != nil {
		return fmt.Errorf("failed to read access token: %w", err)
	}
	if auth.ExpiringSoon(token, auth.TokenRefreshWindow) {
		log.Println("Warning: access token expires soon, run `quill auth` to refresh")
	}

	store, err := storage.New(cfg.QuillHome)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	bus := eventbus.New(logg)

	client := transport.New(transport.Config{
		URL:                  cfg.ServerURL,
		Token:                token,
		HeartbeatInterval:    cfg.Transport.HeartbeatInterval,
		BackoffBase:          cfg.Transport.BackoffBase,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		QueueCapacity:        cfg.Transport.QueueCapacity,
		SendMaxRetries:       cfg.Transport.SendMaxRetries,
	}, logg)

	b := bridge.New(bus, logg)
	b.Initialize(client)
	defer b.Destroy()

	api := notifications.NewAPIClient(cfg.ServerURL, token)
	defer api.Close()

	aggregator := notifications.New(store, api, notifications.Options{
		Cap:           cfg.Notifications.Cap,
		RetentionDays: cfg.Notifications.RetentionDays,
		SyncInterval:  cfg.Notifications.SyncInterval,
	}, logg)
	aggregator.Attach(bus)

	if cfg.Notifications.Pushover.Enabled() {
		pusher, err := notify.NewPushover(notify.PushoverConfig{
			Token:    cfg.Notifications.Pushover.Token,
			UserKey:  cfg.Notifications.Pushover.UserKey,
			Priority: cfg.Notifications.Pushover.Priority,
			Cooldown: cfg.Notifications.Pushover.Cooldown,
		})
		if err != nil {
			return fmt.Errorf("failed to configure pushover: %w", err)
		}
		defer pusher.Close()
		forwardPushes(bus, pusher, logg)
	}

	printEvents(bus, aggregator)

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	aggregator.StartSync(ctx)
	defer aggregator.StopSync()

	log.Printf("Connected to %s. Press Ctrl+C to exit.", cfg.ServerURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	return nil
}

// forwardPushes mirrors new-notification events to Pushover. Push failures
// are logged and never interrupt the event flow.
func forwardPushes(bus *eventbus.Bus, pusher *notify.Pushover, logg *logger.Logger) {
	bus.On(string(events.TypeNotificationNew), func(payload any) {
		ev, ok := payload.(events.NotificationNew)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			err := pusher.Push(ctx, ev.ConversationID, ev.LatestMessage.SenderName, ev.LatestMessage.Content)
			if err != nil {
				logg.Warn("pushover delivery failed", zap.Error(err))
			}
		}()
	})
}

// printEvents wires a human-readable trace of domain events to stdout.
func printEvents(bus *eventbus.Bus, aggregator *notifications.Aggregator) {
	bus.On(string(events.TypeConnectionStatus), func(payload any) {
		ev, ok := payload.(events.ConnectionStatus)
		if !ok {
			return
		}
		if ev.IsConnected {
			log.Println("connected")
		} else if ev.ReconnectAttempts > 0 {
			log.Printf("reconnecting (attempt %d)", ev.ReconnectAttempts)
		} else {
			log.Println("disconnected")
		}
	})
	bus.On(string(events.TypeMessageReceived), func(payload any) {
		ev, ok := payload.(events.MessageReceived)
		if !ok {
			return
		}
		log.Printf("[%s] %s: %s", ev.ConversationID, ev.Message.SenderName, ev.Message.Content)
	})
	bus.On(string(events.TypeUserTyping), func(payload any) {
		ev, ok := payload.(events.UserTyping)
		if !ok || !ev.IsTyping {
			return
		}
		log.Printf("[%s] %s is typing...", ev.ConversationID, ev.UserName)
	})
	bus.On(string(events.TypeNotificationNew), func(payload any) {
		if _, ok := payload.(events.NotificationNew); !ok {
			return
		}
		log.Printf("unread notifications: %d", aggregator.UnreadCount())
	})
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("quill", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server-url", "", "Quill server URL")
	debug := fs.Bool("debug", false, "Enable debug logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		return nil, nil
	}

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *debug {
		cfg.Debug = true
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`quill - Quill realtime chat client

Usage:
  quill                Connect and stream chat events until interrupted
  quill help           Show this help message
  quill version        Show version information

Environment Variables:
  QUILL_SERVER_URL     Server URL (default: https://api.quillchat.dev)
  QUILL_HOME_DIR       Config directory (default: ~/.quill)
  QUILL_CONFIG_FILE    Optional YAML config file overlaying the environment
  QUILL_DEBUG          Enable debug logging (true/1)

Flags:
  --server-url         Quill server URL
  --debug              Enable debug logging

Examples:
  # Connect to the default server
  quill

  # Connect to a local development server
  QUILL_SERVER_URL=http://localhost:3005 quill`)
}
