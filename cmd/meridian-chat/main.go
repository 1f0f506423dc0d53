// meridian-chat is a small terminal client for the meridian SDK: it prints
// live events and accepts line commands for sending, typing, and calls.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	meridian "github.com/meridian-im/meridian-go"
	"github.com/meridian-im/meridian-go/internal/config"
	"github.com/meridian-im/meridian-go/internal/model"
)

var (
	configPath = flag.String("config", "config.json", "Path to the config file")
	verbose    = flag.Bool("v", false, "Debug logging")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()
	if *version {
		fmt.Printf("meridian-chat v%s\n", appVersion)
		return
	}

	if *verbose {
		logging.SetAllLoggers(logging.LevelDebug)
	} else {
		logging.SetAllLoggers(logging.LevelError)
	}

	cfg, created, err := config.Ensure(*configPath)
	if created {
		fmt.Printf("wrote default config to %s — fill in server.ws_url, server.api_base and server.token\n", *configPath)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	client, err := meridian.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	client.OnConnectionState(func(connected bool) {
		fmt.Printf("* connection: %v\n", connected)
	})
	client.OnMessage(func(msg model.Message) {
		fmt.Printf("[%s] %s: %s\n", msg.ConversationID, msg.SenderID, msg.Body)
	})
	client.OnTypingChange(func(conversationID string, userIDs []string) {
		if len(userIDs) > 0 {
			fmt.Printf("* typing in %s: %s\n", conversationID, strings.Join(userIDs, ", "))
		}
	})
	client.OnConversationCreated(func(conv model.Conversation) {
		fmt.Printf("* new conversation %s (%s)\n", conv.ID, conv.Type)
	})
	client.OnCallStatus(func(st model.CallStatus) {
		fmt.Printf("* call status: %s\n", st)
	})
	client.OnCallEnded(func(callID string) {
		fmt.Printf("* call %s ended\n", callID)
	})

	client.Connect()
	defer client.Close()

	ctx := context.Background()
	convs, err := client.LoadConversations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load conversations: %v\n", err)
	}
	for _, c := range convs {
		fmt.Printf("conversation %s (%s) — %s\n", c.ID, c.Type, c.LastMessagePreview)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		client.Close()
		os.Exit(0)
	}()

	fmt.Println("commands: send <conv> <text> | history <conv> | typing <conv> | call <user> <conv> | accept <callId> | reject <callId> | end | mute | quit")
	sc := bufio.NewScanner(os.Stdin)
	var lastIncoming model.Call
	client.OnIncomingCall(func(inc model.Call) {
		lastIncoming = inc
		fmt.Printf("* incoming %s call %s from %s\n", inc.Type, inc.ID, inc.CallerID)
	})

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit":
			return
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <conv> <text>")
				continue
			}
			if !client.Send(fields[1], strings.Join(fields[2:], " ")) {
				fmt.Println("send failed (offline?)")
			}
		case "history":
			if len(fields) != 2 {
				fmt.Println("usage: history <conv>")
				continue
			}
			msgs, err := client.LoadMessages(ctx, fields[1])
			if err != nil {
				fmt.Printf("history: %v\n", err)
				continue
			}
			for _, m := range msgs {
				fmt.Printf("  %s %s: %s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Body)
			}
		case "typing":
			if len(fields) != 2 {
				fmt.Println("usage: typing <conv>")
				continue
			}
			client.SendTyping(fields[1], true)
		case "call":
			if len(fields) != 3 {
				fmt.Println("usage: call <user> <conv>")
				continue
			}
			if _, err := client.InitiateCall(ctx, fields[1], model.CallVideo, fields[2]); err != nil {
				fmt.Printf("call: %v\n", err)
			}
		case "accept":
			inc := lastIncoming
			if inc.ID == "" {
				fmt.Println("no incoming call")
				continue
			}
			if len(fields) == 2 && fields[1] != inc.ID {
				fmt.Printf("unknown call %s\n", fields[1])
				continue
			}
			if err := client.AcceptCall(ctx, inc); err != nil {
				fmt.Printf("accept: %v\n", err)
			}
		case "reject":
			if len(fields) != 2 {
				fmt.Println("usage: reject <callId>")
				continue
			}
			if err := client.RejectCall(ctx, fields[1]); err != nil {
				fmt.Printf("reject: %v\n", err)
			}
		case "end":
			if err := client.EndCall(ctx); err != nil {
				fmt.Printf("end: %v\n", err)
			}
		case "mute":
			muted, err := client.ToggleMute()
			if err != nil {
				fmt.Printf("mute: %v\n", err)
				continue
			}
			fmt.Printf("* muted: %v\n", muted)
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
