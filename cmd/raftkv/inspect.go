package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/raftkv/client"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <replica-id>",
	Short: "Interactively get/put against a running replica, following redirects",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	c, err := client.Connect(args[0])
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("raftkv inspect: commands are 'get <key>', 'put <key> <value>', 'quit'")

	for {
		input, err := line.Prompt("raftkv> ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "get":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: get <key>")
				continue
			}
			v, err := c.Get(fields[1])
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Println(v)
		case "put":
			if len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: put <key> <value>")
				continue
			}
			if err := c.Put(fields[1], fields[2]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Println("ok")
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", fields[0])
		}
	}
}
