package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream [prompt...]",
	Short: "Send one prompt and print the response as it streams",
	RunE:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sub := a.dispatcher.StreamCompletion(req)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		if _, ok := <-interrupt; ok {
			sub.Close()
		}
	}()

	out := cmd.OutOrStdout()
	for {
		text, err := sub.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, text)
	}
}
