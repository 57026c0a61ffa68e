package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pairwave/relay/internal/client"
	"github.com/pairwave/relay/internal/models"
	"github.com/pairwave/relay/internal/reconcile"
	"github.com/spf13/cobra"
)

func main() {
	var (
		relayURL string
		name     string
		peer     string
	)

	root := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client for the pairwave relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handlers := client.Handlers{
				OnMessage: func(rec reconcile.Record) {
					if rec.FromMe {
						return
					}
					if rec.FileName != "" {
						fmt.Printf("[%s] sent file %s (%s)\n", rec.Name, rec.FileName, rec.FileMime)
						return
					}
					fmt.Printf("[%s] %s\n", rec.Name, rec.Text)
				},
				OnConnectRequest: func(from, peerName string) {
					fmt.Printf("* %s (%s) connected to you\n", peerName, from)
				},
				OnConnectAck: func(to string, status models.Status, errMsg string) {
					switch status {
					case models.StatusSent:
						fmt.Printf("* connected to %s\n", to)
					case models.StatusNotFound:
						fmt.Printf("* connect failed: %s not online\n", to)
					default:
						fmt.Printf("* connect error: %s\n", errMsg)
					}
				},
				OnDeliveryError: func(id, errMsg string) {
					fmt.Printf("* message %s failed: %s\n", id, errMsg)
				},
				OnCall: func(from, callerName string, payload json.RawMessage) {
					fmt.Printf("* incoming call from %s (%s)\n", callerName, from)
				},
			}

			c, err := client.Dial(ctx, relayURL, name, handlers)
			if err != nil {
				return err
			}
			defer c.Close()

			runErr := make(chan error, 1)
			go func() { runErr <- c.Run(ctx) }()

			log.Printf("your id: %s", c.ID())

			if peer != "" {
				if err := c.ConnectTo(peer); err != nil {
					return err
				}
			}

			// Lines are sent to the current peer; "/connect <id>" links to a
			// peer, "/read <id>" acknowledges a message.
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					switch {
					case strings.HasPrefix(line, "/connect "):
						if err := c.ConnectTo(strings.TrimPrefix(line, "/connect ")); err != nil {
							log.Printf("connect: %v", err)
						}
					case strings.HasPrefix(line, "/read "):
						if err := c.MarkRead(strings.TrimPrefix(line, "/read ")); err != nil {
							log.Printf("read: %v", err)
						}
					default:
						if _, err := c.SendMessage(line, ""); err != nil {
							log.Printf("send: %v", err)
						}
					}
				}
			}()

			select {
			case <-ctx.Done():
				log.Println("shutting down")
				return nil
			case err := <-runErr:
				return err
			}
		},
	}

	root.Flags().StringVar(&relayURL, "relay", "ws://localhost:5050/ws/connect", "relay websocket URL")
	root.Flags().StringVar(&name, "name", "anonymous", "display name")
	root.Flags().StringVar(&peer, "peer", "", "peer id to connect to on startup")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
