package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/codefionn/scee/internal/config"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/socketclient"
)

const maxPasswordAttempts = 3

const clientHelp = `Commands:
  /rooms      list rooms
  /join <id>  join a room
  /leave      leave the current room
  /quit       disconnect
Anything else is sent to the current room.`

func runClient(args []string) error {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", config.DefaultConfig().ListenAddr, "Chat server address")
	user := fs.String("user", "", "Username (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	stdin := bufio.NewReader(os.Stdin)

	client := socketclient.NewClient(*addr)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	client.SetBroadcastCallback(func(b protocol.Broadcast) {
		fmt.Printf("[%s] %s\n", b.Sender, b.Content)
	})
	client.SetErrorCallback(func(message string) {
		fmt.Fprintf(os.Stderr, "! %s\n", message)
	})

	if err := login(ctx, client, stdin, *user); err != nil {
		return err
	}

	if err := printRooms(ctx, client); err != nil {
		return err
	}
	fmt.Println(clientHelp)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := stdin.ReadString('\n')
			if line = strings.TrimRight(line, "\r\n"); line != "" {
				lines <- line
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-client.Done():
			if err := client.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			quit, err := handleInput(ctx, client, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func login(ctx context.Context, client *socketclient.Client, stdin *bufio.Reader, user string) error {
	if user == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		user = strings.TrimSpace(line)
	}

	for attempt := 1; attempt <= maxPasswordAttempts; attempt++ {
		password, err := readPassword(stdin, "Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		u, err := client.Login(ctx, user, password)
		if err == nil {
			fmt.Printf("Logged in as %s (%s)\n", u.Username, u.Role)
			return nil
		}

		var serverErr *socketclient.ServerError
		if !errors.As(err, &serverErr) {
			return err
		}
		fmt.Fprintf(os.Stderr, "Login failed: %s\n", serverErr.Message)
	}
	return fmt.Errorf("too many failed login attempts")
}

func readPassword(stdin *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printRooms(ctx context.Context, client *socketclient.Client) error {
	rooms, err := client.GetRooms(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Rooms:")
	for _, r := range rooms {
		fmt.Printf("  %d  %s\n", r.ID, r.Name)
	}
	return nil
}

// handleInput runs one line of user input and reports whether to quit
func handleInput(ctx context.Context, client *socketclient.Client, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, client.Send(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true, nil
	case "/help":
		fmt.Println(clientHelp)
		return false, nil
	case "/rooms":
		return false, printRooms(ctx, client)
	case "/join":
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /join <room id>")
		}
		joined, err := client.Join(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Printf("-- %s --\n", joined.RoomName)
		for _, h := range joined.History {
			fmt.Printf("%s [%s] %s\n", h.Timestamp, h.Username, h.Content)
		}
		return false, nil
	case "/leave":
		if err := client.Leave(ctx); err != nil {
			return false, err
		}
		fmt.Println("Back in the lobby")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}
