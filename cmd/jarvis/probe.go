package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chatservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/chat"
)

var probeCmd = &cobra.Command{
	Use:   "probe [message]",
	Short: "Send one message to an assistant endpoint and print the reply",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProbe,
}

var (
	probeEndpoint string
	probeUsername string
	probeTimeout  time.Duration
	probeVerbose  bool
)

func init() {
	flags := probeCmd.Flags()
	flags.StringVar(&probeEndpoint, "endpoint", "", "assistant endpoint (default: CHAT_ENDPOINT or the local /api/chat)")
	flags.StringVarP(&probeUsername, "user", "u", "Probe", "username sent with the message")
	flags.DurationVar(&probeTimeout, "timeout", 45*time.Second, "request timeout")
	flags.BoolVarP(&probeVerbose, "verbose", "v", false, "log the exchange")
}

var errProbeFailed = errors.New("exchange failed")

func runProbe(cmd *cobra.Command, args []string) error {
	message := "Hello JARVIS, run a systems check."
	if len(args) == 1 {
		message = args[0]
	}

	endpoint := probeEndpoint
	if endpoint == "" {
		_ = godotenv.Load(flagEnvFile)
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		endpoint = cfg.Chat.Endpoint
	}

	log := zap.NewNop()
	if probeVerbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = dev
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	client := chatservice.NewHTTPClient(endpoint, nil, log)
	start := time.Now()
	res := client.Exchange(ctx, chatservice.NewRequest(message, probeUsername, start))
	return printProbe(cmd.OutOrStdout(), endpoint, res, time.Since(start))
}

func printProbe(w io.Writer, endpoint string, res chatservice.Result, elapsed time.Duration) error {
	fmt.Fprintf(w, "endpoint: %s\n", endpoint)
	fmt.Fprintf(w, "elapsed:  %s\n", elapsed.Round(time.Millisecond))
	if res.OK() {
		fmt.Fprintf(w, "JARVIS:   %s\n", strings.TrimSpace(res.Response))
		return nil
	}
	fmt.Fprintf(w, "error:    %s\n", res.Err)
	fmt.Fprintf(w, "JARVIS:   %s\n", chatservice.Apology(res.Err))
	return fmt.Errorf("%w: %s", errProbeFailed, res.Err.Kind)
}
