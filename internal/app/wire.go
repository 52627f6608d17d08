// Package app wires the roomseal dependency graph for the CLI.
package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"roomseal/internal/cipher"
	"roomseal/internal/config"
	"roomseal/internal/domain"
	"roomseal/internal/exchange"
	"roomseal/internal/keystore"
	"roomseal/internal/roomkeys"
	"roomseal/internal/session"
	"roomseal/internal/transport"
)

// Options carries the runtime wiring inputs.
type Options struct {
	Home       string        // config directory, e.g. $HOME/.roomseal
	Passphrase string        // unlocks the keyring for the session
	Config     config.Config // file config with flag overrides applied
	HTTP       *http.Client  // optional; defaults to http.DefaultClient
	Logger     zerolog.Logger
}

// App bundles the stores, the protocol and the coordinator. Server,
// Stream, Exchange and Coordinator are nil when no server is
// configured; the local stores and cipher always work.
type App struct {
	Keys   *keystore.FileStore
	Rooms  *roomkeys.Store
	Cipher *cipher.Cipher

	Server      *transport.HTTP
	Stream      *transport.Stream
	Caps        transport.CapabilitySet
	Exchange    *exchange.Protocol
	Coordinator *session.Coordinator
}

// New constructs the dependency graph. Capabilities are negotiated once
// here, from the server version.
func New(ctx context.Context, opts Options) (*App, error) {
	keys := keystore.New(opts.Home)
	rooms, err := roomkeys.New(opts.Home)
	if err != nil {
		return nil, err
	}
	ciph := cipher.New(rooms)

	a := &App{Keys: keys, Rooms: rooms, Cipher: ciph}
	if opts.Config.ServerURL == "" {
		return a, nil
	}

	server := transport.NewHTTP(opts.Config.ServerURL, domain.MemberID(opts.Config.Member))
	if opts.HTTP != nil {
		server.HTTP = opts.HTTP
	}
	stream := transport.NewStream(server, opts.Logger)

	version, err := server.ServerVersion(ctx)
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("server version unavailable, features disabled until next session")
		version = ""
	}
	caps := transport.ResolveCapabilities(version)

	exCfg := exchange.Config{
		Passphrase:     opts.Passphrase,
		RequestTimeout: opts.Config.Exchange.RequestTimeout.Duration,
		RetryMin:       opts.Config.Exchange.RetryMin.Duration,
		RetryMax:       opts.Config.Exchange.RetryMax.Duration,
		MaxRetries:     opts.Config.Exchange.MaxRetries,
		Caps:           caps,
	}
	proto := exchange.New(keys, rooms, server, stream, exCfg, opts.Logger)

	coord := session.New(ciph, rooms, proto, server, stream, session.Config{
		Self:        domain.MemberID(opts.Config.Member),
		SendTimeout: opts.Config.Session.SendTimeout.Duration,
	}, opts.Logger)

	a.Server = server
	a.Stream = stream
	a.Caps = caps
	a.Exchange = proto
	a.Coordinator = coord
	return a, nil
}
