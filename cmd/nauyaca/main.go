// Command nauyaca is the Gemini/Titan client CLI: fetch, upload and
// delete resources, and manage the local trust-on-first-use database.
// Its verb surface is pulled forward from the original implementation's
// __main__.py (fetch/version) and tofu.py (list/trust/revoke), extended
// with upload/delete/export/import for the Titan and portability
// features this module adds.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanbato/nauyaca/internal/client"
	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/tofu"
)

var statusNames = map[int]string{
	geministatus.Input:                    "INPUT",
	geministatus.SensitiveInput:           "SENSITIVE INPUT",
	geministatus.Success:                  "SUCCESS",
	geministatus.RedirectTemporary:        "REDIRECT TEMPORARY",
	geministatus.RedirectPermanent:        "REDIRECT PERMANENT",
	geministatus.TemporaryFailure:         "TEMPORARY FAILURE",
	geministatus.ServerUnavailable:        "SERVER UNAVAILABLE",
	geministatus.CGIError:                 "CGI ERROR",
	geministatus.ProxyError:               "PROXY ERROR",
	geministatus.SlowDown:                 "SLOW DOWN",
	geministatus.PermanentFailure:         "PERMANENT FAILURE",
	geministatus.NotFound:                 "NOT FOUND",
	geministatus.Gone:                     "GONE",
	geministatus.ProxyRequestRefused:      "PROXY REQUEST REFUSED",
	geministatus.BadRequest:               "BAD REQUEST",
	geministatus.ClientCertificateRequired: "CLIENT CERTIFICATE REQUIRED",
	geministatus.CertificateNotAuthorised:  "CERTIFICATE NOT AUTHORISED",
}

func main() {
	if err := buildCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nauyaca:", err)
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	var tofuPath string

	root := &cobra.Command{
		Use:   "nauyaca",
		Short: "A Gemini/Titan protocol client",
	}
	root.PersistentFlags().StringVar(&tofuPath, "tofu-db", "", "path to the TOFU database (default: ~/.nauyaca/tofu.db)")

	root.AddCommand(
		fetchCmd(&tofuPath),
		uploadCmd(&tofuPath),
		deleteCmd(&tofuPath),
		tofuCmd(&tofuPath),
		versionCmd(),
	)
	return root
}

func defaultTofuPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".nauyaca", "tofu.db"), nil
}

func openStore(path string) (*tofu.Store, error) {
	if path == "" {
		p, err := defaultTofuPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tofu database directory: %w", err)
		}
	}
	return tofu.Open(path)
}

func fetchCmd(tofuPath *string) *cobra.Command {
	var (
		maxRedirects int
		noRedirects  bool
		timeout      float64
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Fetch a Gemini resource and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sess := client.New(store)
			sess.Timeout = time.Duration(timeout * float64(time.Second))
			if noRedirects {
				sess.MaxRedirects = 0
			} else {
				sess.MaxRedirects = maxRedirects
			}

			ctx, cancel := context.WithTimeout(context.Background(), sess.Timeout+5*time.Second)
			defer cancel()

			resp, err := sess.Get(ctx, args[0])
			if err != nil {
				return reportClientError(err)
			}
			printResponse(cmd, resp, verbose)
			if geministatus.IsError(resp.Status) {
				return fmt.Errorf("server returned status %d", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxRedirects, "max-redirects", "r", client.DefaultMaxRedirects, "maximum number of redirects to follow")
	cmd.Flags().BoolVar(&noRedirects, "no-redirects", false, "do not follow redirects")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 30, "request timeout in seconds")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show status and meta before the body")
	return cmd
}

func uploadCmd(tofuPath *string) *cobra.Command {
	var (
		mimeType string
		token    string
	)

	cmd := &cobra.Command{
		Use:   "upload URL FILE",
		Short: "Upload FILE to URL via Titan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}

			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sess := client.New(store)
			ctx, cancel := context.WithTimeout(context.Background(), sess.Timeout+5*time.Second)
			defer cancel()

			resp, err := sess.Upload(ctx, args[0], body, mimeType, token)
			if err != nil {
				return reportClientError(err)
			}
			printResponse(cmd, resp, true)
			if geministatus.IsError(resp.Status) {
				return fmt.Errorf("server returned status %d", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "text/gemini", "MIME type to declare for the upload")
	cmd.Flags().StringVar(&token, "token", "", "Titan authentication token")
	return cmd
}

func deleteCmd(tofuPath *string) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "delete URL",
		Short: "Delete the resource at URL via Titan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sess := client.New(store)
			ctx, cancel := context.WithTimeout(context.Background(), sess.Timeout+5*time.Second)
			defer cancel()

			resp, err := sess.Delete(ctx, args[0], token)
			if err != nil {
				return reportClientError(err)
			}
			printResponse(cmd, resp, true)
			if geministatus.IsError(resp.Status) {
				return fmt.Errorf("server returned status %d", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Titan authentication token")
	return cmd
}

func tofuCmd(tofuPath *string) *cobra.Command {
	root := &cobra.Command{
		Use:   "tofu",
		Short: "Manage the trust-on-first-use certificate database",
	}
	root.AddCommand(
		tofuListCmd(tofuPath),
		tofuTrustCmd(tofuPath),
		tofuRevokeCmd(tofuPath),
		tofuExportCmd(tofuPath),
		tofuImportCmd(tofuPath),
	)
	return root
}

func tofuListCmd(tofuPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every trusted host, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\t%s\tlast seen %s\n",
					e.Hostname, e.Port, e.Fingerprint, e.LastSeen.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func tofuTrustCmd(tofuPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trust HOST[:PORT]",
		Short: "Connect to HOST and trust whatever certificate it presents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}

			der, err := fetchPeerCertificate(host, port)
			if err != nil {
				return fmt.Errorf("connect to %s:%d: %w", host, port, err)
			}

			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Trust(host, port, der); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trusted %s:%d\n", host, port)
			return nil
		},
	}
}

func tofuRevokeCmd(tofuPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke HOST[:PORT]",
		Short: "Forget the trusted certificate for HOST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Revoke(host, port); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s:%d\n", host, port)
			return nil
		},
	}
}

func tofuExportCmd(tofuPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write every trusted host to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			defer f.Close()

			return store.Export(f)
		},
	}
}

func tofuImportCmd(tofuPath *string) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Merge trusted hosts from FILE into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*tofuPath)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			strategy := tofu.MergeKeepExisting
			if replace {
				strategy = tofu.MergeReplace
			}
			return store.Import(f, strategy, nil)
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite existing entries on conflict instead of keeping them")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "nauyaca Gemini/Titan client")
			fmt.Fprintln(cmd.OutOrStdout(), "Protocol: Gemini (gemini://), Titan (titan://)")
			return nil
		},
	}
}

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 1965, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return host, port, nil
}

// fetchPeerCertificate performs a bare TLS handshake against host:port
// and returns the DER of the certificate presented, without sending
// any Gemini request.
func fetchPeerCertificate(host string, port int) ([]byte, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // TOFU trust decision happens after this handshake.
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("server presented no certificate")
	}
	return state.PeerCertificates[0].Raw, nil
}

func printResponse(cmd *cobra.Command, resp *geministatus.Response, verbose bool) {
	out := cmd.OutOrStdout()
	if verbose {
		name, ok := statusNames[resp.Status]
		if !ok {
			name = "UNKNOWN"
		}
		fmt.Fprintf(out, "Status: %d (%s)\n", resp.Status, name)
		fmt.Fprintf(out, "Meta: %s\n\n", resp.Meta)
	}
	if len(resp.Body) > 0 {
		fmt.Fprintln(out, string(resp.Body))
	} else if !geministatus.IsSuccess(resp.Status) && !verbose {
		fmt.Fprintf(out, "[%d] %s\n", resp.Status, resp.Meta)
	}
}

func reportClientError(err error) error {
	var changed *tofu.CertificateChangedError
	if errors.As(err, &changed) {
		return fmt.Errorf("certificate changed for %s:%d (was %s, now %s), run \"nauyaca tofu revoke\" then retry to trust it, or \"tofu trust\" if this is expected",
			changed.Host, changed.Port, changed.OldFingerprint, changed.NewFingerprint)
	}
	return err
}
