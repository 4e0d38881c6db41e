package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/aeolun/chatroom/pkg/client"
	"github.com/aeolun/chatroom/pkg/logging"
	"github.com/aeolun/chatroom/pkg/protocol"
)

const usage = `Usage: client [flags] <command> [args]

Commands:
  rooms                   list rooms on the server
  users <room>            list members of a room
  send <target> <text>    send a message to a room or a user
  tail <room>...          join rooms and print messages until interrupted
`

func main() {
	// Command line flags
	configPath := flag.String("config", "~/.chatroom/client.toml", "Path to config file")
	server := flag.String("server", "", "Server address (host:port, tcp://, ws:// or wss://); overrides config")
	username := flag.String("user", "", "Username to register with (default: config, then guest-<pid>)")
	timeout := flag.Duration("timeout", 0, "Timeout for connecting and for each request (overrides config)")
	throttle := flag.Int("throttle", -1, "Bandwidth limit in bytes/sec, 0 = unlimited (overrides config)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel})

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *username != "" {
		config.Connection.Username = *username
	}
	if config.Connection.Username == "" {
		config.Connection.Username = fmt.Sprintf("guest-%d", os.Getpid())
	}
	if *throttle >= 0 {
		config.Connection.ThrottleBytesPerSec = *throttle
	}
	requestTimeout := config.Timeout()
	if *timeout > 0 {
		requestTimeout = *timeout
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := config.ServerAddress()
	if *server != "" {
		addr = *server
	}
	if config.Connection.ThrottleBytesPerSec > 0 {
		log.Info().Str("link", client.FormatBandwidth(config.Connection.ThrottleBytesPerSec)).Msg("throttling connection")
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, requestTimeout)
	c, err := client.Dial(dialCtx, addr, config.Connection.Username, config.Options())
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Str("server", addr).Msg("failed to connect")
	}
	defer c.Close()

	if err := run(ctx, c, requestTimeout, config.TimestampLayout(), args); err != nil {
		c.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Debug().
		Str("sent", client.FormatBytes(c.BytesSent())).
		Str("received", client.FormatBytes(c.BytesReceived())).
		Msg("done")
}

func run(ctx context.Context, c *client.Client, timeout time.Duration, timestamps string, args []string) error {
	request := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, timeout)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "rooms":
		rctx, cancel := request()
		defer cancel()
		rooms, err := c.Rooms(rctx)
		if err != nil {
			return err
		}
		printList("Room", rooms)

	case "users":
		if len(rest) != 1 {
			return errors.New("users takes exactly one room")
		}
		rctx, cancel := request()
		defer cancel()
		users, err := c.Users(rctx, rest[0])
		if err != nil {
			return err
		}
		printList("User", users)

	case "send":
		if len(rest) < 2 {
			return errors.New("send takes a target and a message")
		}
		if err := c.Send(rest[0], strings.Join(rest[1:], " ")); err != nil {
			return err
		}
		// A ListRooms round trip confirms the server consumed the message
		rctx, cancel := request()
		defer cancel()
		if _, err := c.Rooms(rctx); err != nil {
			return err
		}

	case "tail":
		if len(rest) == 0 {
			return errors.New("tail takes at least one room")
		}
		for _, room := range rest {
			rctx, cancel := request()
			users, err := c.JoinAndWait(rctx, room)
			cancel()
			if err != nil {
				return fmt.Errorf("join %s: %w", room, err)
			}
			fmt.Printf("* joined %s (%s)\n", room, strings.Join(users, ", "))
		}
		return tail(ctx, c, timestamps)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func tail(ctx context.Context, c *client.Client, timestamps string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-c.Incoming():
			if !ok {
				return c.Err()
			}
			switch m := p.(type) {
			case *protocol.TellMsgPacket:
				fmt.Println(client.FormatTell(m, time.Now(), timestamps))
			case *protocol.ListUsersRespPacket:
				fmt.Printf("* %s: %s\n", m.Room, strings.Join(m.Users, ", "))
			}
		}
	}
}

func printList(header string, items []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", header})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for i, item := range items {
		table.Append([]string{fmt.Sprintf("%d", i+1), item})
	}
	table.Render()
}
