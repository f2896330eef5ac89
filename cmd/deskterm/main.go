package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/deskterm/deskterm/internal/mcpbridge"
	"github.com/deskterm/deskterm/internal/notify"
	"github.com/deskterm/deskterm/internal/server"
	"github.com/deskterm/deskterm/internal/session"
	"github.com/deskterm/deskterm/internal/workspace"
)

var version = "0.1.0"

func main() {
	port := flag.Int("port", 8080, "port number (auto-increments if busy)")
	local := flag.Bool("local", false, "listen on localhost only (no Tailscale)")
	showVersion := flag.Bool("version", false, "show version")
	mcpStdio := flag.Bool("mcp", false, "run the agent bridge over stdio instead of serving HTTP")
	slackToken := flag.String("slack-token", "", "Slack bot token for session lifecycle notifications")
	slackChannel := flag.String("slack-channel", "", "Slack channel ID for session lifecycle notifications")
	flag.Parse()

	if *showVersion {
		fmt.Println("deskterm", version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	sessions := session.NewManager(logger)
	controller := workspace.NewController(sessions, logger, func() string { return uuid.NewString() })
	serializer := workspace.NewSerializer(controller, sessions, func() string { return uuid.NewString() })

	if *mcpStdio {
		bridge := mcpbridge.New(sessions)
		if err := bridge.ServeStdio(); err != nil {
			logger.Error("mcp bridge exited", "err", err)
			os.Exit(1)
		}
		return
	}

	var notifiers []notify.Notifier
	if webpushNotifier, err := notify.NewWebpushNotifier(logger); err != nil {
		logger.Warn("web push unavailable", "err", err)
	} else {
		notifiers = append(notifiers, webpushNotifier)
	}
	if *slackToken != "" && *slackChannel != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(*slackToken, *slackChannel, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Addr:       fmt.Sprintf(":%d", *port),
		Logger:     logger,
		Version:    version,
		Sessions:   sessions,
		Controller: controller,
		Serializer: serializer,
		Notifier:   notify.NewFanout(notifiers...),
	})

	if *local {
		ln, err := listenWithFallback("127.0.0.1", *port, 10, logger)
		if err != nil {
			logger.Error("failed to listen", "err", err)
			os.Exit(1)
		}
		srv.SetBaseURL("http://" + ln.Addr().String())
		fmt.Fprintf(os.Stderr, "\n  deskterm v%s running at:\n\n    http://%s\n\n", version, ln.Addr().String())
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()
	} else {
		tsServer := &tsnet.Server{
			Hostname: "deskterm",
			Logf:     func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
		}

		ln, err := tsServer.ListenTLS("tcp", fmt.Sprintf(":%d", *port))
		if err != nil {
			logger.Error("failed to listen on tailscale", "err", err)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "\n  deskterm v%s running at:\n\n", version)
		lc, _ := tsServer.LocalClient()
		if lc != nil {
			if status, err := lc.Status(ctx); err == nil {
				if status.Self != nil {
					dnsName := strings.TrimSuffix(status.Self.DNSName, ".")
					if dnsName != "" {
						if *port == 443 {
							fmt.Fprintf(os.Stderr, "    https://%s\n", dnsName)
							srv.SetBaseURL(fmt.Sprintf("https://%s", dnsName))
						} else {
							fmt.Fprintf(os.Stderr, "    https://%s:%d\n", dnsName, *port)
							srv.SetBaseURL(fmt.Sprintf("https://%s:%d", dnsName, *port))
						}
					}
				}
				for _, ip := range status.TailscaleIPs {
					fmt.Fprintf(os.Stderr, "    https://%s:%d\n", ip, *port)
				}
			} else {
				logger.Warn("could not get tailscale status", "err", err)
			}
		}
		fmt.Fprintln(os.Stderr)

		go func() {
			srv.SetTLSConfig(&tls.Config{})
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()

		defer tsServer.Close()
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func listenWithFallback(host string, startPort, maxAttempts int, logger *slog.Logger) (net.Listener, error) {
	for i := range maxAttempts {
		port := startPort + i
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Info("port was busy, using fallback", "requested", startPort, "actual", port)
			}
			return ln, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all ports %d-%d are in use", startPort, startPort+maxAttempts-1)
}
