package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

type rootOptions struct {
	profilePath string
	server      string
	token       string
	timeout     string

	dial fasthttp.DialFunc
}

// newRootCmd builds the command tree. dial overrides the network dialer and
// is nil outside tests.
func newRootCmd(dial fasthttp.DialFunc) *cobra.Command {
	opts := &rootOptions{dial: dial}

	rootCmd := &cobra.Command{
		Use:   "pollctl",
		Short: "Operate OrderRelay polling sessions",
		Long: `pollctl talks to the OrderRelay control API.

Server address and admin token come from the profile file and may be
overridden per invocation with --server and --token.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.profilePath, "profile", defaultProfilePath(), "path to pollctl.toml")
	flags.StringVar(&opts.server, "server", "", "control API base URL")
	flags.StringVar(&opts.token, "token", "", "admin token")
	flags.StringVar(&opts.timeout, "timeout", "", "request timeout, e.g. 10s")

	rootCmd.AddCommand(
		newSessionCmd(opts, "start", "Start polling for a session", "POST", "/start"),
		newSessionCmd(opts, "stop", "Stop a session and print its final statistics", "POST", "/stop"),
		newSessionCmd(opts, "status", "Show the status of a session", "GET", ""),
		newSessionCmd(opts, "compliance", "Show the compliance report of a session", "GET", "/compliance"),
		newSessionCmd(opts, "drain", "Acknowledge every pending event of a session", "POST", "/acknowledgments:drain"),
		newSessionCmd(opts, "retry-failed", "Requeue failed acknowledgments of a session", "POST", "/acknowledgments:retry-failed"),
		newListCmd(opts),
		newEmergencyStopCmd(opts),
		newAlertsCmd(opts),
		newHealthCmd(opts),
		newProfileCmd(opts),
	)

	return rootCmd
}

// client resolves flags over the profile.
func (o *rootOptions) client() (*client, error) {
	p, err := loadProfile(o.profilePath)
	if err != nil {
		return nil, err
	}
	if o.server != "" {
		p.Server = o.server
	}
	if o.token != "" {
		p.Token = o.token
	}
	if o.timeout != "" {
		p.Timeout = o.timeout
	}
	timeout, err := p.timeout()
	if err != nil {
		return nil, err
	}
	return newClient(p.Server, p.Token, timeout, o.dial), nil
}

func (o *rootOptions) call(cmd *cobra.Command, method, path string, body interface{}) error {
	c, err := o.client()
	if err != nil {
		return err
	}
	raw, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	out, err := prettyJSON(raw)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func sessionPath(sessionID, suffix string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + suffix, nil
}

func newSessionCmd(opts *rootOptions, use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := sessionPath(args[0], suffix)
			if err != nil {
				return err
			}
			return opts.call(cmd, method, path, nil)
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, "GET", "/api/v1/sessions", nil)
		},
	}
}

func newEmergencyStopCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Stop every active session immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("emergency-stop halts all sessions; rerun with --yes to confirm")
			}
			return opts.call(cmd, "POST", "/api/v1/sessions:emergency-stop", nil)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm stopping all sessions")
	return cmd
}

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List active alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, "GET", "/api/v1/alerts", nil)
		},
	}

	var by string
	ackCmd := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("alert id is required")
			}
			body := map[string]string{"by": by}
			return opts.call(cmd, "POST", "/api/v1/alerts/"+url.PathEscape(id)+"/acknowledge", body)
		},
	}
	ackCmd.Flags().StringVar(&by, "by", "operator", "who acknowledged the alert")

	alertsCmd.AddCommand(ackCmd)
	return alertsCmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, "GET", "/health", nil)
		},
	}
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the pollctl profile",
	}

	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Write --server, --token and --timeout to the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile(opts.profilePath)
			if err != nil {
				return err
			}
			if opts.server != "" {
				p.Server = opts.server
			}
			if opts.token != "" {
				p.Token = opts.token
			}
			if opts.timeout != "" {
				p.Timeout = opts.timeout
			}
			if _, err := p.timeout(); err != nil {
				return err
			}
			if err := saveProfile(opts.profilePath, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile saved: %s\n", opts.profilePath)
			return nil
		},
	}

	profileCmd.AddCommand(saveCmd)
	return profileCmd
}
