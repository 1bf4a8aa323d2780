// Command nauyacad runs the Gemini/Titan capsule server described by
// spec.md: it loads a validated internal/config.Config, wires the
// middleware chain, static and Titan handlers, and TLS listener it
// names, and serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alanbato/nauyaca/internal/config"
	"github.com/alanbato/nauyaca/internal/geminiurl"
	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/handler"
	"github.com/alanbato/nauyaca/internal/logging"
	"github.com/alanbato/nauyaca/internal/middleware"
	"github.com/alanbato/nauyaca/internal/server"
	"github.com/alanbato/nauyaca/internal/tlsutil"
)

func main() {
	if err := buildCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nauyacad:", err)
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "nauyacad",
		Short: "Serve a Gemini capsule with optional Titan uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: /etc/nauyaca/config.yaml or ./config.yaml)")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level)

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger.Info("starting capsule", logging.Fields{
		"host":  cfg.Server.Host,
		"port":  cfg.Server.Port,
		"titan": cfg.Titan.Enabled,
	})

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func buildServer(cfg *config.Config, logger logging.Logger) (*server.Server, error) {
	tlsCfg, err := tlsutil.NewServerConfig(tlsutil.ServerTLSConfig{
		CertFile:          cfg.Server.CertFile,
		KeyFile:           cfg.Server.KeyFile,
		Hostname:          cfg.Server.Host,
		RequireClientCert: cfg.Server.RequireClientCert,
	})
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}

	chain, err := buildMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	static := &handler.StaticFileHandler{
		DocumentRoot:           cfg.Server.DocumentRoot,
		DefaultIndices:         []string{"index.gmi", "index.gemini"},
		EnableDirectoryListing: true,
		MaxFileSize:            cfg.Server.MaxFileSize,
	}

	srv := &server.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		TLSConfig:    tlsCfg,
		Middlewares:  chain,
		Routes:       []server.Route{{Prefix: "/", Handler: server.HandlerFunc(serveStatic(static))}},
		TitanEnabled: cfg.Titan.Enabled,
		Logger:       logger,
		HashIPs:      cfg.Logging.HashIPs,
	}

	if cfg.Titan.Enabled {
		srv.TitanHandler = &handler.TitanHandler{
			UploadDir:        cfg.Titan.UploadDir,
			MaxUploadSize:    cfg.Titan.MaxUploadSize,
			AllowedMimeTypes: toSet(cfg.Titan.AllowedMimeTypes),
			AuthTokens:       toSet(cfg.Titan.AuthTokens),
			EnableDelete:     cfg.Titan.EnableDelete,
		}
	}

	return srv, nil
}

// serveStatic adapts StaticFileHandler.Serve, which operates on a bare
// path string, to the server.Handler interface, which operates on the
// full parsed request.
func serveStatic(h *handler.StaticFileHandler) func(*geminiurl.ParsedURL) *geministatus.Response {
	return func(req *geminiurl.ParsedURL) *geministatus.Response {
		return h.Serve(req.Path)
	}
}

func buildMiddleware(cfg *config.Config) (middleware.Chain, error) {
	var chain middleware.Chain

	if cfg.AccessControl.Enabled {
		allow, err := middleware.ParseCIDRList(cfg.AccessControl.AllowList)
		if err != nil {
			return nil, fmt.Errorf("access_control.allow_list: %w", err)
		}
		deny, err := middleware.ParseCIDRList(cfg.AccessControl.DenyList)
		if err != nil {
			return nil, fmt.Errorf("access_control.deny_list: %w", err)
		}
		chain = append(chain, &middleware.AccessControl{
			Enabled:      true,
			AllowList:    allow,
			DenyList:     deny,
			DefaultAllow: cfg.AccessControl.DefaultAllow,
		})
	}

	if cfg.RateLimit.Enabled {
		chain = append(chain, middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate, cfg.RateLimit.RetryAfter))
	}

	if len(cfg.CertificateAuth.Paths) > 0 {
		rules := make([]middleware.PathRule, len(cfg.CertificateAuth.Paths))
		for i, p := range cfg.CertificateAuth.Paths {
			rules[i] = middleware.PathRule{
				Prefix:              p.Prefix,
				RequireCert:         p.RequireCert,
				AllowedFingerprints: toSet(p.AllowedFingerprints),
			}
		}
		chain = append(chain, &middleware.CertAuth{Rules: rules})
	}

	return chain, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
