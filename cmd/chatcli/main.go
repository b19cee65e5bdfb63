// Interactive terminal client for a running Heliox backend. It consumes the
// same stream contract the web UI does, including the one-shot fallback to
// the non-streaming endpoint and abort handling.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"heliox-backend/internal/models"
	"heliox-backend/internal/streamclient"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "backend base URL")
	cps := flag.Int("cps", 300, "typewriter speed in characters per second")
	flag.Parse()

	client := streamclient.New(*baseURL)
	var history []models.ChatMessage

	// Ctrl-C aborts the in-flight stream; partial text is kept.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		for range sigChan {
			client.Abort()
		}
	}()

	fmt.Println("Heliox chat. Ctrl-C stops the current reply, Ctrl-D exits.")
	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			break
		}
		message := strings.TrimSpace(stdin.Text())
		if message == "" {
			continue
		}

		history = append(history, models.ChatMessage{Role: "user", Content: message})

		events, err := client.StreamChat(context.Background(), history, "")
		if err != nil {
			log.Printf("request failed: %v", err)
			history = history[:len(history)-1]
			continue
		}

		tw := streamclient.NewTypewriter(os.Stdout, *cps)
		var reply strings.Builder
		var aborted bool
		for ev := range events {
			if ev.Err != nil {
				if errors.Is(ev.Err, streamclient.ErrAborted) {
					aborted = true
				} else {
					log.Printf("stream error: %v", ev.Err)
				}
				break
			}
			for _, cand := range ev.Chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						reply.WriteString(part.Text)
						tw.Add(part.Text)
					}
				}
			}
		}
		if aborted {
			tw.Cancel()
			fmt.Println("\n[stopped]")
		} else {
			tw.Close()
			fmt.Println()
		}

		if sources := client.LastSources(); len(sources) > 0 {
			fmt.Println("Sources:")
			for _, s := range sources {
				fmt.Printf("  - %s (%s)\n", s.Title, s.Domain)
			}
		}
		if suggestions := client.GenerateSuggestions(); len(suggestions) > 0 {
			fmt.Println("Try next:")
			for _, sug := range suggestions {
				fmt.Printf("  - %s\n", sug)
			}
		}

		if reply.Len() > 0 {
			history = append(history, models.ChatMessage{Role: "model", Content: reply.String()})
		} else {
			history = history[:len(history)-1]
		}
	}
}
