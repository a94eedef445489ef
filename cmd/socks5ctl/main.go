// Command socks5ctl is the admin CLI client for socks5d: it speaks the
// monitor binary protocol directly over TCP to read counters and mutate
// the proxy-user/admin tables and disector toggle at runtime.
package main

import (
	"fmt"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haldirsson/socks5d/internal/config"
	"github.com/haldirsson/socks5d/internal/monitorproto"
)

var (
	serverAddr string
	tokenHex   string
)

const dialTimeout = 5 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "socks5ctl",
		Short:         "Admin CLI for the socks5d daemon's monitor protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080", "socks5d monitor address (host:port)")
	cmd.PersistentFlags().StringVar(&tokenHex, "token", os.Getenv("SOCKS5D_ROOT_TOKEN"), "hex-encoded 16-byte admin token (env SOCKS5D_ROOT_TOKEN)")

	cmd.AddCommand(getCmd())
	cmd.AddCommand(configCmd())

	return cmd
}

// roundTrip dials the monitor listener, sends one request, and returns the
// parsed response — the monitor lifecycle is strictly one request per
// connection, so a fresh dial per command keeps this client as simple as
// the protocol it speaks.
func roundTrip(method, target byte, data []byte) (status byte, respData []byte, err error) {
	token, err := config.ParseRootToken(tokenHex)
	if err != nil {
		return 0, nil, fmt.Errorf("parse --token: %w", err)
	}

	conn, err := net.DialTimeout("tcp", serverAddr, dialTimeout)
	if err != nil {
		return 0, nil, fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	req := monitorproto.MarshalRequest(token, method, target, data)
	if _, err := conn.Write(req); err != nil {
		return 0, nil, fmt.Errorf("write request: %w", err)
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if status, respData, err = monitorproto.ParseResponse(buf); err == nil {
			return status, respData, nil
		}
		if rerr != nil {
			return 0, nil, fmt.Errorf("read response: %w", rerr)
		}
	}
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read a counter or table from the daemon",
	}
	cmd.AddCommand(getTargetCmd("historic", "Total connections accepted since start", monitorproto.TargetHistoric, true))
	cmd.AddCommand(getTargetCmd("concurrent", "Connections currently active", monitorproto.TargetConcurrent, true))
	cmd.AddCommand(getTargetCmd("transferred", "Total bytes relayed since start", monitorproto.TargetTransferred, true))
	cmd.AddCommand(getTargetCmd("users", "Registered proxy usernames", monitorproto.TargetProxyUsers, false))
	cmd.AddCommand(getTargetCmd("admins", "Registered admin usernames", monitorproto.TargetAdminUsers, false))
	return cmd
}

func getTargetCmd(name, short string, target byte, counter bool) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			status, data, err := roundTrip(monitorproto.MethodGet, target, []byte{0x00})
			if err != nil {
				return err
			}
			if status != monitorproto.StatusOK {
				return fmt.Errorf("daemon returned %s", monitorproto.StatusName(status))
			}
			if counter {
				v, err := monitorproto.UnmarshalCounter(data)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			}
			printNames(data)
			return nil
		},
	}
}

func printNames(data []byte) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	if len(data) == 0 {
		return
	}
	start := 0
	for i, b := range data {
		if b == 0x00 {
			fmt.Fprintln(w, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		fmt.Fprintln(w, string(data[start:]))
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Mutate the daemon's runtime state",
	}
	cmd.AddCommand(toggleDisectorCmd())
	cmd.AddCommand(addProxyUserCmd())
	cmd.AddCommand(delProxyUserCmd())
	cmd.AddCommand(addAdminCmd())
	cmd.AddCommand(delAdminCmd())
	return cmd
}

func toggleDisectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-disector true|false",
		Short: "Enable or disable the POP3 credential disector",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var payload byte
			switch args[0] {
			case "true", "1", "on":
				payload = 0x01
			case "false", "0", "off":
				payload = 0x00
			default:
				return fmt.Errorf("expected true/false, got %q", args[0])
			}
			return doConfig(monitorproto.TargetToggleDisector, []byte{payload})
		},
	}
}

func addProxyUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-user USER PASS",
		Short: "Register a proxy-authentication credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return doConfig(monitorproto.TargetAddProxyUser, userPayload(args[0], args[1]))
		},
	}
}

func delProxyUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del-user USER",
		Short: "Remove a proxy-authentication credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doConfig(monitorproto.TargetDelProxyUser, []byte(args[0]))
		},
	}
}

func addAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-admin USER TOKEN",
		Short: "Register an admin with a hex-encoded 16-byte token",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			token, err := config.ParseRootToken(args[1])
			if err != nil {
				return fmt.Errorf("parse TOKEN: %w", err)
			}
			return doConfig(monitorproto.TargetAddAdmin, userPayload(args[0], string(token[:])))
		},
	}
}

func delAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del-admin USER",
		Short: "Remove an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doConfig(monitorproto.TargetDelAdmin, []byte(args[0]))
		},
	}
}

func userPayload(username, secret string) []byte {
	out := make([]byte, 0, len(username)+1+len(secret))
	out = append(out, []byte(username)...)
	out = append(out, 0x00)
	out = append(out, []byte(secret)...)
	return out
}

func doConfig(target byte, data []byte) error {
	status, _, err := roundTrip(monitorproto.MethodConfig, target, data)
	if err != nil {
		return err
	}
	if status != monitorproto.StatusOK {
		return fmt.Errorf("daemon returned %s", monitorproto.StatusName(status))
	}
	fmt.Println("OK")
	return nil
}
