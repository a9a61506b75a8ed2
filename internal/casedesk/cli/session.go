package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/gateway"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/pkg/cryptox"
)

func newLoginCommand(root *rootOptions) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and share the session with other casedesk processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				p, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = p
			}

			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			identity, err := a.Client().Login(cmd.Context(), email, password)
			if err != nil {
				return describe(err)
			}

			cred := a.Session().Credential()
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, session expires in %s\n",
				identity.DisplayName(), service.FormatRemaining(time.Until(cred.ExpiresAt)))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when empty)")
	return cmd
}

func newLogoutCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out every casedesk process sharing this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			if !a.Session().IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := a.Client().Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

type statusView struct {
	Authenticated bool      `json:"authenticated"`
	Email         string    `json:"email,omitempty"`
	Username      string    `json:"username,omitempty"`
	Role          string    `json:"role,omitempty"`
	Verified      bool      `json:"verified"`
	ViewOnly      bool      `json:"view_only"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	Remaining     string    `json:"remaining,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the shared session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			snap := a.Session().Snapshot()
			view := statusView{Authenticated: snap.Authenticated}
			if snap.Authenticated {
				view.Email = snap.Identity.Email
				view.Username = snap.Identity.Username
				view.Role = snap.Identity.Role
				view.Verified = snap.Identity.IsVerified()
				view.ViewOnly = snap.Identity.IsViewOnly()
				view.ExpiresAt = snap.Credential.ExpiresAt
				view.Remaining = service.FormatRemaining(snap.Remaining)
				view.Fingerprint = cryptox.Fingerprint(snap.Credential.Value)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			if !view.Authenticated {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			fmt.Fprintf(out, "User:        %s\n", snap.Identity.DisplayName())
			if view.Role != "" {
				fmt.Fprintf(out, "Role:        %s\n", view.Role)
			}
			fmt.Fprintf(out, "Expires in:  %s\n", view.Remaining)
			fmt.Fprintf(out, "Credential:  %s\n", view.Fingerprint)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	return cmd
}

func newPingCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Extend the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			if !a.Session().IsAuthenticated() {
				return errors.New("not logged in")
			}
			if err := a.ExtendSession(cmd.Context()); err != nil {
				return describe(err)
			}

			remaining := time.Until(a.Session().Credential().ExpiresAt)
			fmt.Fprintf(cmd.OutOrStdout(), "Session extended, expires in %s\n", service.FormatRemaining(remaining))
			return nil
		},
	}
}

// describe renders a gateway failure with its message key so callers can
// look up a translation.
func describe(err error) error {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		if gerr.IsUnauthorized() {
			return fmt.Errorf("%s [%s]: log in again", gerr.Message, gerr.MessageKey)
		}
		return fmt.Errorf("%s [%s]", gerr.Message, gerr.MessageKey)
	}
	return err
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}
