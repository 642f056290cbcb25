package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"inapp-messaging/internal/localstate"
	"inapp-messaging/sdk"
)

type simulateOptions struct {
	events    []string
	user      string
	state     string
	configURL string
	key       string
	wait      time.Duration
	optOut    bool
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the SDK against a backend, log events and print what it displays",
		Long: `Run the SDK against a backend, log events and print what it displays.

Events are given as:
    app_start | login | purchase:<amountMicros> | custom:<name>[:<attr>=<value>,...]

Integer, decimal and boolean attribute values are typed; anything else is a string.
Each displayed campaign is dismissed right away so its impressions are reported.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.events, "event", "e", nil, "event to log (repeatable)")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id reported to the backend")
	cmd.Flags().StringVar(&opts.state, "state", "", "SQLite file for campaign state (default from config, else in memory)")
	cmd.Flags().StringVar(&opts.configURL, "config-url", "", "config endpoint (default from config)")
	cmd.Flags().StringVar(&opts.key, "subscription-key", "", "subscription key (default from config)")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Second, "how long to keep the SDK running")
	cmd.Flags().BoolVar(&opts.optOut, "opt-out", false, "opt out of every displayed campaign")
	return cmd
}

type simUser struct{ id string }

func (u simUser) UserID() string               { return u.id }
func (u simUser) IDTrackingIdentifier() string { return "" }
func (u simUser) AccessToken() string          { return "" }

// printSurface writes each campaign to out and dismisses it.
type printSurface struct {
	mu      sync.Mutex
	out     io.Writer
	shown   []string
	dismiss func(id string)
}

func (s *printSurface) Show(_ context.Context, msg sdk.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := msg.Campaign
	fmt.Fprintf(s.out, "display %s %q: %s\n", c.ID, c.Payload.Title, c.Payload.MessageBody)
	s.shown = append(s.shown, c.ID)
	go s.dismiss(c.ID)
	return nil
}

func (s *printSurface) Dismiss(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "dismissed %s\n", id)
}

func (s *printSurface) Shown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.shown...)
}

func runSimulate(ctx context.Context, out io.Writer, root *rootOptions, opts *simulateOptions) error {
	cfg := root.cfg.SDK
	if opts.configURL != "" {
		cfg.ConfigURL = opts.configURL
	}
	if opts.key != "" {
		cfg.SubscriptionKey = opts.key
	}
	if opts.state != "" {
		cfg.StatePath = opts.state
	}

	events := make([]*sdk.Event, 0, len(opts.events))
	for _, raw := range opts.events {
		e, err := parseEvent(raw)
		if err != nil {
			return err
		}
		events = append(events, e)
	}

	sdkOpts := []sdk.Option{
		sdk.WithLogger(log.Logger),
		sdk.WithoutImagePrefetch(),
		sdk.WithErrorHandler(func(err error) { fmt.Fprintf(out, "error: %v\n", err) }),
	}
	if cfg.StatePath != "" {
		st, err := localstate.OpenSQLite(cfg.StatePath)
		if err != nil {
			return err
		}
		sdkOpts = append(sdkOpts, sdk.WithStateStore(st))
	}

	m, err := sdk.New(sdk.HostInfo{
		AppID:      cfg.AppID,
		AppVersion: cfg.AppVersion,
		SDKVersion: "iamctl",
		Locale:     cfg.Locale,
	}, sdkOpts...)
	if err != nil {
		return err
	}
	defer m.Close()

	if opts.user != "" {
		m.RegisterUserInfoProvider(simUser{id: opts.user})
	}
	surface := &printSurface{out: out, dismiss: func(string) { m.HandleInteraction(sdk.Dismissed(opts.optOut)) }}
	m.RegisterDisplaySurface(surface)

	if err := m.Configure(ctx, cfg.SubscriptionKey, cfg.ConfigURL); err != nil {
		return err
	}
	for _, e := range events {
		m.LogEvent(e)
	}

	select {
	case <-ctx.Done():
	case <-time.After(opts.wait):
	}
	fmt.Fprintf(out, "displayed %d campaign(s)\n", len(surface.Shown()))
	return nil
}

// parseEvent reads the --event syntax.
func parseEvent(s string) (*sdk.Event, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(kind) {
	case "app_start":
		return sdk.AppStartEvent(), nil
	case "login":
		return sdk.LoginSuccessfulEvent(), nil
	case "purchase":
		amount, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("purchase amount %q: %w", rest, err)
		}
		return sdk.PurchaseSuccessfulEvent(amount, 1, "USD", nil), nil
	case "custom":
		name, attrs, _ := strings.Cut(rest, ":")
		e, err := sdk.CustomEvent(name)
		if err != nil {
			return nil, err
		}
		if attrs == "" {
			return e, nil
		}
		for _, kv := range strings.Split(attrs, ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("attribute %q: want name=value", kv)
			}
			if err := addAttribute(e, k, v); err != nil {
				return nil, err
			}
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event %q", s)
	}
}

func addAttribute(e *sdk.Event, name, value string) error {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return e.AddInt(name, i)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return e.AddDouble(name, f)
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return e.AddBool(name, b)
	}
	return e.AddString(name, value)
}
