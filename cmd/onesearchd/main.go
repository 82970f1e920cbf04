package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/onesearch-labs/onesearchd/auth"
	"github.com/onesearch-labs/onesearchd/config"
	"github.com/onesearch-labs/onesearchd/db/tkv"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/peer"
	"github.com/onesearch-labs/onesearchd/proxy"
	"github.com/onesearch-labs/onesearchd/registry"
	"github.com/onesearch-labs/onesearchd/secrets"
	"github.com/onesearch-labs/onesearchd/service"
	"github.com/onesearch-labs/onesearchd/state"
)

/*
	Composition root. Components are constructed once, in dependency
	order, and wired by passing references - no ambient global lookup,
	no self-registration.

		tkv -> secrets -> state -> peer -> {registry, proxy} -> gate -> service
*/

func main() {
	var configPath string
	var generateConfig bool
	var debug bool

	flag.StringVar(&configPath, "config", "onesearch.yaml", "path to the node config file")
	flag.BoolVar(&generateConfig, "generate-config", false, "write a default config file and exit")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if generateConfig {
		if _, err := os.Stat(configPath); err == nil {
			logger.Error("refusing to overwrite existing config", "path", configPath)
			os.Exit(1)
		}
		if err := config.WriteConfig(config.GenerateConfig(), configPath); err != nil {
			logger.Error("could not write default config", "path", configPath, "error", err)
			os.Exit(1)
		}
		color.HiGreen("wrote default config to %s", configPath)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("could not load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	appCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := tkv.New(tkv.Config{
		Logger:         logger,
		BadgerLogLevel: slog.LevelWarn,
		Directory:      cfg.DataDir,
		AppCtx:         appCtx,
	})
	if err != nil {
		logger.Error("could not open state store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	vault := secrets.New(secrets.Config{
		Logger: logger,
		Secret: cfg.SiteSecret,
		Salt:   cfg.SiteSalt,
	})
	st := state.New(logger, kv, vault)

	peers := peer.NewClient(peer.Config{
		Logger:     logger,
		Timeout:    cfg.PeerTimeout,
		SkipVerify: cfg.PeerSkipVerify,
	})

	reg := registry.New(logger, st, peers, cfg.PublicURL)
	px := proxy.New(logger, st, peers, cfg.Cache)
	defer px.Stop()

	admin := auth.NewAdminTokenAuthenticator(cfg.AdminToken)
	gate := auth.NewGate(logger, st.Role, acceptedTokens(st, reg), admin)

	svc := service.New(service.Config{
		AppCtx:   appCtx,
		Logger:   logger,
		Site:     cfg,
		State:    st,
		Registry: reg,
		Proxy:    px,
		Gate:     gate,
		Admin:    admin,
	})

	banner(cfg, st, vault)

	svc.Run()

	logger.Info("application exiting")
}

// acceptedTokens builds the gate's token source. A governing node
// accepts any registered brand site's API key; every node accepts its
// own shared token.
func acceptedTokens(st *state.Store, reg *registry.Registry) auth.TokenSource {
	return func() ([]string, error) {
		var tokens []string

		role, err := st.Role()
		if err != nil {
			return nil, err
		}
		if role == models.RoleGoverning {
			keys, err := reg.APIKeys()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, keys...)
		}

		own, err := st.SharedToken()
		if err != nil {
			return nil, err
		}
		if own != "" {
			tokens = append(tokens, own)
		}
		return tokens, nil
	}
}

func banner(cfg *config.Site, st *state.Store, vault interface{ InsecureDefaults() bool }) {
	color.HiCyan("onesearchd")
	color.Cyan("  binding:   %s", cfg.HttpBinding)
	color.Cyan("  public:    %s", cfg.PublicURL)

	role, err := st.Role()
	switch {
	case err != nil:
		color.HiRed("  role:      unreadable (%v)", err)
	case role == models.RoleUnset:
		color.Yellow("  role:      unset - select one via POST /admin/v1/role")
	default:
		color.Cyan("  role:      %s", role)
	}

	if vault.InsecureDefaults() {
		color.HiRed("  WARNING: site secret/salt not configured - at-rest encryption is using insecure defaults")
	}
}
