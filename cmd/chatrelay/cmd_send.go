package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/broker"
	"github.com/user/chatrelay/internal/types"
)

var sendChannel string

func init() {
	rootCmd.AddCommand(sendCmd, channelCmd)
	sendCmd.Flags().StringVar(&sendChannel, "channel", "",
		"target channel (a fresh one is generated when omitted)")
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Generate a fresh test channel id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, types.NewChannel())
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Publish a test message to the conversation queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		channel := types.Channel(sendChannel)
		if channel == "" {
			channel = types.NewChannel()
		}
		job := types.Job{
			Message:   strings.Join(args, " "),
			Channel:   channel,
			MessageID: types.NewMessageID(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := broker.Publish(ctx, brokerConfig(cfg), job); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent message %s on channel %s\n", job.MessageID, job.Channel)
		return nil
	},
}
