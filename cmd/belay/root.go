// Package main implements the belay CLI: a thin cobra command tree over
// belaygo for executing snippets and pushing/pulling files without an
// interactive prompt.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjboer/belaygo"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run builds and executes the command tree; kept separate from main so it
// is testable without touching os.Args/os.Getenv directly, following the
// teacher's run(args, out, getenv) entrypoint pattern.
func run(args []string, out io.Writer, getenv func(string) string) error {
	root := newRootCmd(out, getenv)
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}

func newRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	defaultConn := getenv("BELAY_CONN")
	if defaultConn == "" {
		defaultConn = "serial:/dev/ttyACM0"
	}

	var connString string

	root := &cobra.Command{
		Use:           "belay",
		Short:         "drive a MicroPython device over its Raw REPL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&connString, "conn", defaultConn, `connection string, "serial:<path>" or "subprocess:<path>"`)

	root.AddCommand(newExecCmd(out, &connString))
	root.AddCommand(newPutCmd(out, &connString))
	root.AddCommand(newGetCmd(out, &connString))
	root.AddCommand(newInfoCmd(out, &connString))
	root.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	return root
}

func dialAndDefer(cmd *cobra.Command, connString string) (*belaygo.Device, func(), error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dev, err := belaygo.Dial(ctx, connString, belaygo.DefaultConfig(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %q: %w", connString, err)
	}
	return dev, func() { _ = dev.Dispose(ctx) }, nil
}

func newExecCmd(out io.Writer, connString *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <code>",
		Short: "execute a Python fragment on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, done, err := dialAndDefer(cmd, *connString)
			if err != nil {
				return err
			}
			defer done()

			resp, err := dev.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !resp.Success {
				_, err := fmt.Fprintf(out, "error: %s\n", resp.Stderr)
				return err
			}
			_, err = fmt.Fprintln(out, resp.Result)
			return err
		},
	}
}

func newPutCmd(out io.Writer, connString *string) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <remote-path>",
		Short: "copy a local file onto the device filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			dev, done, err := dialAndDefer(cmd, *connString)
			if err != nil {
				return err
			}
			defer done()

			return dev.PutFile(cmd.Context(), args[1], data)
		},
	}
}

func newGetCmd(out io.Writer, connString *string) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get <remote-path>",
		Short: "copy a device file to the local filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, done, err := dialAndDefer(cmd, *connString)
			if err != nil {
				return err
			}
			defer done()

			data, err := dev.GetFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err := fmt.Fprintln(out, base64.StdEncoding.EncodeToString(data))
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "local file to write (defaults to base64 on stdout)")
	return cmd
}

func newInfoCmd(out io.Writer, connString *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print detected device capabilities and call metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, done, err := dialAndDefer(cmd, *connString)
			if err != nil {
				return err
			}
			defer done()

			caps := dev.Capabilities()
			metrics := dev.Metrics()
			_, err = fmt.Fprintf(out,
				"platform=%s version=%s raw_paste=%v window=%d avg_response=%s\nsuccesses=%d failures=%d retries=%d\n",
				caps.Platform, caps.Version, caps.SupportsRawPaste, caps.PreferredWindowSize, caps.AverageResponseTime,
				metrics.Successes, metrics.Failures, metrics.Retries,
			)
			return err
		},
	}
}
