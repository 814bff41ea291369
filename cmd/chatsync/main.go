package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	stdlog "log"

	"github.com/skillbay/chatsync/internal/chat"
	"github.com/skillbay/chatsync/internal/config"
	"github.com/skillbay/chatsync/internal/log"
	"github.com/skillbay/chatsync/internal/store"
	"github.com/skillbay/chatsync/internal/transport"
)

func main() {
	if err := run(); err != nil {
		stdlog.Printf("chatsync: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	api := flag.String("api", "", "REST API base URL (default from config)")
	ws := flag.String("ws", "", "WebSocket endpoint (default from config)")
	user := flag.String("user", "", "username")
	pass := flag.String("pass", "", "password")
	name := flag.String("name", "", "display name (register only)")
	register := flag.Bool("register", false, "register a new account instead of logging in")
	chatID := flag.String("chat", "", "conversation id to open")
	course := flag.String("course", "", "course id for a new conversation")
	peer := flag.String("peer", "", "peer username for a new conversation")
	level := flag.String("log", "", "log level (default from config)")
	flag.Parse()

	if *user == "" || *pass == "" {
		return fmt.Errorf("-user and -pass are required")
	}

	bootstrap := log.New("warn")
	cfg, cfgPath, err := config.Load(bootstrap, *configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if *api == "" {
		*api = cfg.APIBase
	}
	if *ws == "" {
		*ws = cfg.WSEndpoint
	}
	if *level == "" {
		*level = cfg.LogLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(*level)

	auth, err := authenticate(ctx, *api, *user, *pass, *name, *register)
	if err != nil {
		return err
	}
	self := chat.Profile{ID: auth.User.ID, Name: auth.User.Name, AvatarURL: auth.User.AvatarURL}

	if *chatID == "" {
		if *course == "" || *peer == "" {
			return fmt.Errorf("either -chat or both -course and -peer are required")
		}
		*chatID, err = createConversation(ctx, *api, auth.Token, *course, *peer)
		if err != nil {
			return err
		}
		fmt.Printf("conversation %s\n", *chatID)
	}

	sess := transport.NewSession(*ws, logger)
	messages := store.NewClient(*api, auth.Token, cfg.PageSize)

	var conv *chat.Conversation
	render := make(chan struct{}, 1)

	client := chat.NewClient(sess, messages, self, auth.Token, chat.ClientOptions{
		TypingQuiet:        cfg.TypingQuiet,
		TypingDecay:        cfg.TypingDecay,
		MaxAttachmentBytes: cfg.MaxAttachmentKiB * 1024,
		ReconnectMin:       cfg.ReconnectMin,
		ReconnectMax:       cfg.ReconnectMax,
		Notify: func(n chat.Notice) {
			fmt.Printf("! %s: %s\n", n.Code, n.Text)
		},
		OnUpdate: func() {
			select {
			case render <- struct{}{}:
			default:
			}
		},
		Logger: logger,
	})

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Teardown()

	go func() {
		if runErr := client.Run(ctx); runErr != nil && ctx.Err() == nil {
			stdlog.Printf("session: %v", runErr)
		}
	}()

	conv, err = client.Open(ctx, *chatID)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	go renderLoop(ctx, conv, self.ID, render)

	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		conv.SetCompose(line, nil)
		if sendErr := conv.Send(ctx); sendErr != nil {
			fmt.Printf("! send: %v\n", sendErr)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// renderLoop reprints the conversation tail whenever its state changes.
func renderLoop(ctx context.Context, conv *chat.Conversation, selfID string, render <-chan struct{}) {
	var shown int
	for {
		select {
		case <-ctx.Done():
			return
		case <-render:
		}
		entries := conv.Snapshot()
		for ; shown < len(entries); shown++ {
			m := entries[shown]
			who := m.Sender.Name
			if m.Sender.ID == selfID {
				who = "me"
			}
			suffix := ""
			if m.Pending {
				suffix = " (sending)"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04:05"), who, m.Text, suffix)
		}
		if typing := conv.TypingUsers(); len(typing) > 0 {
			fmt.Printf("… %s typing\n", strings.Join(typing, ", "))
		}
	}
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatarUrl,omitempty"`
	} `json:"user"`
}

func authenticate(ctx context.Context, api, user, pass, name string, register bool) (authResponse, error) {
	path := "/api/login"
	body := map[string]string{"username": user, "password": pass}
	if register {
		path = "/api/register"
		if name == "" {
			name = user
		}
		body["displayName"] = name
	}
	var resp authResponse
	if err := postJSON(ctx, api+path, "", body, &resp); err != nil {
		return authResponse{}, fmt.Errorf("authenticate: %w", err)
	}
	return resp, nil
}

func createConversation(ctx context.Context, api, token, courseID, peer string) (string, error) {
	body := map[string]string{"courseId": courseID, "peerUsername": peer}
	var resp struct {
		ID string `json:"id"`
	}
	if err := postJSON(ctx, api+"/api/conversations", token, body, &resp); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return resp.ID, nil
}

func postJSON(ctx context.Context, url, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(res.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, res.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
