// The cli binary is a minimal terminal chat client built on the reconciler:
// it prints the live conversation and sends stdin lines as messages.
//
//	/react <id> <emoji>   toggle a reaction
//	/quit                 exit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/chatrelay/internal/client"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/logger"
)

func main() {
	logger.SetPrefix("cli")
	cfg := config.Load()
	host := flag.String("host", cfg.RelayHost, "relay host:port")
	username := flag.String("username", "", "display name (defaults to Anonymous)")
	flag.Parse()

	p := &printer{out: os.Stdout, rendered: make(map[int64]string)}
	rec := client.New(client.Options{
		URL:      "ws://" + *host + "/chat",
		Username: *username,
		OnUpdate: p.print,
	})
	p.source = rec.Messages

	if err := rec.Connect(); err != nil {
		// Keep running: the reconciler retries on its own.
		fmt.Fprintf(os.Stderr, "connect: %v (retrying)\n", err)
	}
	defer rec.Disconnect()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-quit:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if handleLine(rec, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handleLine processes one input line; returns true to exit.
func handleLine(rec *client.Reconciler, line string) bool {
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/react "):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			fmt.Fprintln(os.Stderr, "usage: /react <id> <emoji>")
			return false
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad message id %q\n", fields[1])
			return false
		}
		if err := rec.ToggleReaction(id, fields[2]); err != nil {
			fmt.Fprintf(os.Stderr, "react: %v\n", err)
		}
		return false
	default:
		if err := rec.SendMessage(line, ""); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
		}
		return false
	}
}

// printer renders new messages in view order and, for messages already
// shown, a reaction line whenever their reaction set changes.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	source func() []client.LocalMessage
	// rendered maps message id to the last printed reaction summary.
	rendered map[int64]string
}

func (p *printer) print() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.source() {
		sig := reactionSummary(m.Reactions)
		prev, ok := p.rendered[m.ID]
		if !ok {
			p.rendered[m.ID] = sig
			marker := ""
			if m.IsSent {
				marker = " (you)"
			}
			body := ""
			if m.Content != nil {
				body = *m.Content
			}
			if m.Image != nil {
				body = strings.TrimSpace(body + " [image]")
			}
			fmt.Fprintf(p.out, "#%d %s%s: %s\n", m.ID, m.Username, marker, body)
			if sig != "" {
				fmt.Fprintf(p.out, "#%d reactions: %s\n", m.ID, sig)
			}
			continue
		}
		if sig != prev {
			p.rendered[m.ID] = sig
			if sig == "" {
				sig = "none"
			}
			fmt.Fprintf(p.out, "#%d reactions: %s\n", m.ID, sig)
		}
	}
}

// reactionSummary renders a reaction map as "emoji user,user; emoji user",
// with emojis in a stable order. Empty map renders as "".
func reactionSummary(reactions map[string][]string) string {
	if len(reactions) == 0 {
		return ""
	}
	emojis := make([]string, 0, len(reactions))
	for e := range reactions {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)
	parts := make([]string, 0, len(emojis))
	for _, e := range emojis {
		parts = append(parts, e+" "+strings.Join(reactions[e], ","))
	}
	return strings.Join(parts, "; ")
}
