package natsx

import (
	"os"

	"github.com/nats-io/nats.go"
)

// EnvURL is consulted when no URL is passed to NewClient.
const EnvURL = "NATS_URL"

// NewClient connects to the NATS server at url, or at $NATS_URL when url is
// empty. Without explicit options the connection is named "linebroker",
// compressed, and reconnects forever.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv(EnvURL)
	}
	if len(opts) == 0 {
		opts = append(opts,
			nats.Name("linebroker"),
			nats.Compression(true),
			nats.MaxReconnects(-1),
		)
	}
	return nats.Connect(url, opts...)
}

