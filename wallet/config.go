package wallet

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Routstr/sixty-nuts/cashu"
)

// Config carries everything a Wallet needs to operate: which mints and
// relays it talks to, its holder signing key, and the tunables governing
// caching and rate limiting against both.
type Config struct {
	// MintURLs is the set of mints the wallet will mint, melt, and swap
	// against. Send, CreateMintQuote and Melt take the mint URL as an
	// argument; none of them falls back to an entry of this list.
	MintURLs []string

	// RelayURLs is the set of nostr relays the wallet publishes its
	// encrypted state to and reconstructs its state from.
	RelayURLs []string

	// Unit is the cashu unit this wallet operates in. Only "sat" is
	// currently supported end to end.
	Unit cashu.Unit

	// SigningKeyHex or SigningKeyNsec identifies the holder's long-lived
	// nostr key, used both to sign wallet-state events and as the NIP-44
	// self-encryption key. Exactly one should be set; if neither is set
	// and AutoInit is true, an ephemeral key is generated and printed once.
	SigningKeyHex   string
	SigningKeyNsec  string

	// CacheTTL bounds how long an UNSPENT answer from a mint's proof-state
	// check is cached before the proof is checked again. Keyset caching
	// uses its own fixed TTL.
	CacheTTL time.Duration

	// MaxEventBytes caps the size of a single nostr event's content this
	// wallet will write, keeping a token-bundle event from growing
	// unbounded as a wallet accumulates proofs.
	MaxEventBytes int

	// RelayBurstInterval is the minimum spacing between multi-relay
	// publish/fetch bursts.
	RelayBurstInterval time.Duration

	// AutoInit, when true, lets New generate an ephemeral signing
	// key and fall back to well-known default relays if none are given,
	// rather than failing with a config error.
	AutoInit bool
}

const (
	defaultCacheTTL           = 5 * time.Minute
	defaultMaxEventBytes      = 60 * 1024
	defaultRelayBurstInterval = time.Second
)

// DefaultRelays are used when AutoInit is set and no relays are configured.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
}

// LoadConfig builds a Config from environment variables, loading a .env
// file first (if present) the way the CLI does on startup. Recognized
// variables: NUTW_MINTS, NUTW_RELAYS (comma-separated), NUTW_NSEC,
// NUTW_PRIVATE_KEY, NUTW_CACHE_TTL_SECONDS, NUTW_MAX_EVENT_BYTES,
// NUTW_RATE_LIMIT_SECONDS, NUTW_AUTO_INIT. The unit is not read from the
// environment: Unit is always cashu.Sat.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Unit:               cashu.Sat,
		CacheTTL:           defaultCacheTTL,
		MaxEventBytes:      defaultMaxEventBytes,
		RelayBurstInterval: defaultRelayBurstInterval,
	}

	if v := os.Getenv("NUTW_MINTS"); v != "" {
		cfg.MintURLs = splitCSV(v)
	}
	if v := os.Getenv("NUTW_RELAYS"); v != "" {
		cfg.RelayURLs = splitCSV(v)
	}
	cfg.SigningKeyHex = os.Getenv("NUTW_PRIVATE_KEY")
	cfg.SigningKeyNsec = os.Getenv("NUTW_NSEC")

	if v := os.Getenv("NUTW_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("NUTW_MAX_EVENT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxEventBytes = n
		}
	}
	if v := os.Getenv("NUTW_RATE_LIMIT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.RelayBurstInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("NUTW_AUTO_INIT"); v != "" {
		cfg.AutoInit, _ = strconv.ParseBool(v)
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
