// marketchat is a terminal chat client for the marketplace messaging API.
// It opens one conversation, keeps it live over the WebSocket channel (with
// polling fallback when the socket is down) and mirrors every store change to
// the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradelane/marketchat/internal/api"
	"github.com/tradelane/marketchat/internal/chatcore"
	"github.com/tradelane/marketchat/internal/config"
	"github.com/tradelane/marketchat/internal/session"
	"github.com/tradelane/marketchat/internal/wire"
)

func main() {
	partner := flag.Int64("partner", 0, "partner user id to chat with")
	username := flag.String("username", "", "login instead of using TOKEN")
	password := flag.String("password", "", "password for -username")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading env file: %v", err)
	}
	cfg := config.MustLoad()

	if *partner == 0 {
		log.Fatal("-partner is required")
	}

	sess, err := session.New(cfg.Token)
	if err != nil {
		log.Fatalf("bad TOKEN: %v", err)
	}
	client := api.New(cfg.APIURL, sess)

	if *username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		token, err := client.Login(ctx, *username, *password)
		cancel()
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
		if err := sess.SetToken(token); err != nil {
			log.Fatalf("bad token from login: %v", err)
		}
	}
	if !sess.SignedIn() {
		log.Fatal("please sign in: set TOKEN or pass -username/-password")
	}

	conv, err := chatcore.Open(*partner, sess, client, chatcore.Events{
		OnUpdate: func() { render(*partner) },
		OnSendFailed: func(tempID, content string) {
			fmt.Printf("\n!! send failed: %q, /retry %s to resend\n> ", content, tempID)
		},
		OnPresence: func(online bool) {
			if online {
				fmt.Print("\n** partner is online\n> ")
			} else {
				fmt.Print("\n** partner went offline\n> ")
			}
		},
		OnState: func(s chatcore.State) {
			slog.Debug("channel state", "state", s)
		},
	}, chatcore.Options{
		WSBaseURL:      cfg.WSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		PollInterval:   cfg.PollInterval,
		SendTimeout:    cfg.SendTimeout,
		ReadDebounce:   cfg.ReadDebounce,
	})
	if err != nil {
		log.Fatalf("cannot open conversation: %v", err)
	}
	defer conv.Close()

	activeConv = conv
	fmt.Printf("chatting with user %d: /edit <id> <text>, /delete <id>, /send-file <path>, /quit\n", *partner)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/edit "):
			id, text, ok := splitIDArg(strings.TrimPrefix(line, "/edit "))
			if !ok {
				fmt.Println("usage: /edit <id> <text>")
				break
			}
			conv.Edit(id, text)
		case strings.HasPrefix(line, "/delete "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")), 10, 64)
			if err != nil {
				fmt.Println("usage: /delete <id>")
				break
			}
			conv.Delete(id)
		case strings.HasPrefix(line, "/retry "):
			tempID := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if content, ok := conv.Retry(tempID); ok {
				conv.SendText(content)
			} else {
				fmt.Println("nothing to retry")
			}
		case strings.HasPrefix(line, "/send-file "):
			sendFile(client, conv, strings.TrimSpace(strings.TrimPrefix(line, "/send-file ")))
		default:
			conv.SendText(line)
		}
		fmt.Print("> ")
	}
}

var activeConv *chatcore.Conversation

func render(partnerID int64) {
	if activeConv == nil {
		return
	}
	fmt.Print("\033[2J\033[H")
	online, known := activeConv.PartnerOnline()
	status := "unknown"
	if known {
		status = "offline"
		if online {
			status = "online"
		}
	}
	fmt.Printf("-- chat with %d (partner %s, channel %s) --\n", partnerID, status, activeConv.State())
	for _, m := range activeConv.Messages() {
		mark := " "
		switch m.Status {
		case chatcore.StatusPending:
			mark = "…"
		case chatcore.StatusFailed:
			mark = "✗"
		default:
			if m.Read {
				mark = "✓"
			}
		}
		content := m.Content
		if url, ok := wire.FileURL(content); ok {
			content = "[file] " + url
		}
		fmt.Printf("[%s] %s %d: %s\n", m.Timestamp.Format("15:04:05"), mark, m.Sender, content)
	}
	fmt.Print("> ")
}

func sendFile(client *api.Client, conv *chatcore.Conversation, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("cannot open %s: %v\n", path, err)
		return
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	url, err := client.Upload(ctx, f.Name(), f)
	if err != nil {
		fmt.Printf("upload failed: %v\n", err)
		return
	}
	conv.SendFileURL(url)
}

func splitIDArg(s string) (int64, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}
