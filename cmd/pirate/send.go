package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pirate-rpc/client"
	"pirate-rpc/config"
	"pirate-rpc/connector"
	"pirate-rpc/transport"
)

var (
	sendHost      string
	sendPort      int
	sendTimeout   time.Duration
	sendPreflight bool
	sendDeadline  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send SERVICE [PAYLOAD]",
	Short: "Send one request to a service and print the reply",
	Long: `Send one request to a service and print the reply to stdout.
The payload is read from stdin when it is omitted or "-".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		defer transport.DefaultRegistry().Context().Term()

		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir, closeDir, err := openDirectory(ctx)
		if err != nil {
			return err
		}
		defer closeDir()

		var opts []client.Option
		if sendDeadline > 0 {
			opts = append(opts, client.WithCallDeadline(sendDeadline))
		}
		c, err := client.NewClient(cfg, dir, opts...)
		if err != nil {
			return err
		}

		reply, err := c.Send(ctx, args[0], payload, connector.Options{
			Host:                  sendHost,
			Port:                  sendPort,
			Timeout:               sendTimeout,
			FirstAliveLoadBalance: sendPreflight,
		})
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(reply)
		return err
	},
}

func readPayload(args []string) ([]byte, error) {
	if len(args) == 2 && args[1] != "-" {
		return []byte(args[1]), nil
	}
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return payload, nil
}

func init() {
	sendCmd.Flags().StringVar(&sendHost, "host", "", "server to use when the directory has no live listing (default PB_RPC_HOST)")
	sendCmd.Flags().IntVar(&sendPort, "port", 0, "port of --host (default PB_RPC_PORT)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "send and receive timeout per attempt (default from PB_ZMQ_CLIENT_*_TIMEOUT)")
	sendCmd.Flags().BoolVar(&sendPreflight, "preflight", false, "ask the broker for a free worker before sending")
	sendCmd.Flags().DurationVar(&sendDeadline, "deadline", 0, "bound the whole call, retries included")
}
