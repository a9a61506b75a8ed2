package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSendCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send ACTION [JSON]",
		Short: "Send an action envelope and print its data",
		Long: `send posts {action, data, token} to the backend with the shared session
credential and prints the data of the response. A credential rotated by
the response is stored for every casedesk process.`,
		Example: `  casedesk send case.searchByName '{"name":"Smith"}'
  casedesk send file.list '{"caseId":"C-1042"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %s", args[1])
				}
				payload = json.RawMessage(args[1])
			}

			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			resp, err := a.Client().Send(cmd.Context(), args[0], payload)
			if err != nil {
				return describe(err)
			}
			return printData(cmd, resp.Data)
		},
	}
}

func newHealthCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			h, err := a.Client().Health(cmd.Context())
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s version=%s\n", h.Status, h.Version)
			return nil
		},
	}
}

func printData(cmd *cobra.Command, data json.RawMessage) error {
	if len(data) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "null")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("format response data: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}
