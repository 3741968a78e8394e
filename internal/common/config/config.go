package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"

	"github.com/driftwoodlabs/pds/internal/common/constants"
)

type Config struct {
	HTTPPort    string
	DatabaseURL string
	JWTSecret   string

	// ServiceDID identifies this PDS as a ledger rotation-key holder and
	// as the audience of issued session tokens.
	ServiceDID string
	// PublicURL is the service endpoint recorded in identity operations.
	PublicURL string

	PLCURL         string
	PLCSettleDelay time.Duration
	PLCTimeout     time.Duration

	ResolverTimeout time.Duration

	// RotationKeySeed is the 32-byte ed25519 seed of the service operator
	// key, hex encoded in the environment.
	RotationKeySeed []byte
	// RecoveryDIDKey optionally names a service-level recovery key
	// (did:key form) prepended to rotation key lists.
	RecoveryDIDKey string

	InviteRequired  bool
	EntrywayEnabled bool

	RequestTimeout  time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func Load() (Config, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	if len(jwtSecret) < constants.JWTSecretMinLength {
		return Config{}, commonerrors.ErrInvalidJWTSecret.WithCause(
			fmt.Errorf("got %d bytes", len(jwtSecret)))
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	serviceDID, err := mustEnv("PDS_SERVICE_DID")
	if err != nil {
		return Config{}, err
	}

	publicURL, err := mustEnv("PDS_PUBLIC_URL")
	if err != nil {
		return Config{}, err
	}

	plcURL, err := mustEnv("PLC_URL")
	if err != nil {
		return Config{}, err
	}

	seedHex, err := mustEnv("PDS_ROTATION_KEY_SEED")
	if err != nil {
		return Config{}, err
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != 32 {
		return Config{}, fmt.Errorf("PDS_ROTATION_KEY_SEED must be 32 hex-encoded bytes")
	}

	return Config{
		HTTPPort:        getEnv("PDS_HTTP_PORT", constants.DefaultHTTPPort),
		DatabaseURL:     databaseURL,
		JWTSecret:       jwtSecret,
		ServiceDID:      serviceDID,
		PublicURL:       publicURL,
		PLCURL:          plcURL,
		PLCSettleDelay:  getDurationEnv("PLC_SETTLE_DELAY", constants.DefaultPLCSettleDelay),
		PLCTimeout:      getDurationEnv("PLC_TIMEOUT", constants.DefaultPLCTimeout),
		ResolverTimeout: getDurationEnv("PDS_RESOLVER_TIMEOUT", constants.DefaultResolverTimeout),
		RotationKeySeed: seed,
		RecoveryDIDKey:  getEnv("PDS_RECOVERY_DID_KEY", ""),
		InviteRequired:  getBoolEnv("PDS_INVITE_REQUIRED", false),
		EntrywayEnabled: getBoolEnv("PDS_ENTRYWAY_ENABLED", false),
		RequestTimeout:  getDurationEnv("PDS_REQUEST_TIMEOUT", constants.DefaultRequestTimeout),
		AccessTokenTTL:  getDurationEnv("PDS_ACCESS_TOKEN_TTL", constants.DefaultAccessTokenTTL),
		RefreshTokenTTL: getDurationEnv("PDS_REFRESH_TOKEN_TTL", constants.DefaultRefreshTokenTTL),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", commonerrors.ErrMissingRequiredEnv.WithCause(fmt.Errorf("%s", key))
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
