// chatd CLI - Command line client for the chatd service
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/routetouni/chatd/clients/go/chatd"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHATD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	identity := chatd.Identity{
		UID:     os.Getenv("CHATD_UID"),
		Name:    os.Getenv("CHATD_NAME"),
		Mentor:  os.Getenv("CHATD_MENTOR") == "true",
		Picture: os.Getenv("CHATD_PICTURE"),
	}

	client := chatd.NewClient(baseURL, identity)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "stats":
		resp, err := client.Stats()
		exitOnError(err)
		printJSON(resp)

	case "sync":
		resp, err := client.Sync()
		exitOnError(err)
		fmt.Printf("Synced: %s (%s)\n", resp.Name, resp.UID)

	case "users":
		resp, err := client.ListUsers()
		exitOnError(err)
		for _, u := range resp {
			fmt.Printf("  %s  %s\n", u.UID, u.Name)
		}

	case "rooms":
		resp, err := client.Conversations()
		exitOnError(err)
		for kind, summaries := range resp.Conversations {
			for _, s := range summaries {
				name := s.Room.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("  %s  %-8s %s (%d msgs)\n", s.Room.ID, kind, name, s.Room.MessageCount)
			}
		}

	case "create":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatd create <name> <uid,uid,...>")
			os.Exit(1)
		}
		resp, err := client.CreateRoom(os.Args[2], strings.Split(os.Args[3], ","))
		exitOnError(err)
		fmt.Printf("Created %s room: %s\n", resp.Kind, resp.ID)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatd read <room_id>")
			os.Exit(1)
		}
		resp, err := client.GetMessages(os.Args[2], 20, 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.Name, msg.Body)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatd send <room_id> <message>")
			os.Exit(1)
		}
		live := connect(client)
		defer live.Close()
		exitOnError(live.SendText(os.Args[2], os.Args[3]))
		fmt.Println("Sent")

	case "random":
		live := connect(client)
		defer live.Close()
		exitOnError(live.JoinRandom())
		waitForPartner(live)

	case "search":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatd search <query>")
			os.Exit(1)
		}
		resp, err := client.Search(os.Args[2], 20, "", 0)
		exitOnError(err)
		for _, r := range resp.Results {
			fmt.Printf("[%s] %s: %s\n", r.RoomName, r.Name, r.Body)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// connect opens a live session and joins.
func connect(client *chatd.Client) *chatd.Live {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	live, err := client.Connect(ctx)
	exitOnError(err)
	exitOnError(live.Join())
	return live
}

// waitForPartner reads events until a match arrives or times out.
func waitForPartner(live *chatd.Live) {
	deadline := time.After(60 * time.Second)
	events := make(chan *chatd.Event, 1)

	go func() {
		for {
			ev, err := live.ReadEvent()
			if err != nil {
				close(events)
				return
			}
			if ev.Type == "random_paired" {
				events <- ev
				return
			}
		}
	}()

	select {
	case ev, ok := <-events:
		if !ok {
			fmt.Fprintln(os.Stderr, "connection closed while waiting")
			os.Exit(1)
		}
		var paired struct {
			RoomID      string `json:"room_id"`
			PartnerName string `json:"partner_name"`
		}
		json.Unmarshal(ev.Payload, &paired)
		fmt.Printf("Paired with %s in room %s\n", paired.PartnerName, paired.RoomID)
	case <-deadline:
		fmt.Println("No partner yet; you remain in the queue")
	}
}

func usage() {
	fmt.Println(`chatd CLI - chat service client

Usage: chatd <command> [options]

Commands:
  sync                    Mirror identity into the user directory
  users                   List other users
  rooms                   List conversations
  create <name> <uids>    Create a room (mentor only; comma-separated uids)
  read <room_id>          Read room history
  send <room_id> <msg>    Send a message
  random                  Request a random chat partner
  search <query>          Search messages
  stats                   Platform statistics
  health                  Check server health

Environment:
  CHATD_URL      Server URL (default: http://localhost:8080)
  CHATD_UID      Caller uid (required for most commands)
  CHATD_NAME     Caller display name
  CHATD_MENTOR   "true" if mentor-verified
  CHATD_PICTURE  Avatar URL`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
