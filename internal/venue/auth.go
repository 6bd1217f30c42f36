package venue

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
)

// Credentials holds the L2 API key triplet a venue returns after L1
// wallet authentication, used to HMAC-sign subsequent trading requests.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth implements the two-layer wallet-based authentication common to
// on-chain perp venues: an EIP-712 signed message proves wallet
// ownership once to derive L2 API credentials, then every trading
// request is HMAC-signed with the derived secret. Adapted from the
// teacher's exchange.Auth (internal/exchange/auth.go), dropping the
// funder/proxy wallet distinction (Polymarket-specific) since a perp
// venue account is the signing wallet itself.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	creds      Credentials
}

// NewAuth builds an Auth from the configured wallet private key.
func NewAuth(cfg config.ApiConfig) (*Auth, error) {
	keyHex := cfg.WalletPrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse wallet private key: %w", err)
	}

	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		creds:      Credentials{ApiKey: cfg.ApiKey, Secret: cfg.ApiSecret},
	}, nil
}

// Address returns the wallet's EOA address.
func (a *Auth) Address() common.Address { return a.address }

// SetCredentials installs derived (or pre-configured) L2 credentials.
func (a *Auth) SetCredentials(c Credentials) { a.creds = c }

// L1Headers signs a typed-data authentication message proving wallet
// ownership, used once to bootstrap L2 API credentials.
func (a *Auth) L1Headers(timestamp int64) (map[string]string, error) {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			"VenueAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
			},
		},
		PrimaryType: "VenueAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "perp-trading-engine",
			Version: "1",
		},
		Message: apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
		},
	}

	sig, err := signTypedData(a.privateKey, typedData)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"VENUE-ADDRESS":   a.address.Hex(),
		"VENUE-SIGNATURE": sig,
		"VENUE-TIMESTAMP": strconv.FormatInt(timestamp, 10),
	}, nil
}

func signTypedData(key *ecdsa.PrivateKey, typedData apitypes.TypedData) (string, error) {
	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}

	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainHash, messageHash...)...))

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// L2Headers HMAC-signs "timestamp+method+path+body" with the derived API
// secret, the same scheme the teacher's exchange.Auth.L2Headers uses.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	if a.creds.Secret == "" {
		return nil, fmt.Errorf("no L2 credentials: call DeriveAPIKey first")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + method + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(a.creds.Secret)
	if err != nil {
		secretBytes = []byte(a.creds.Secret)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"VENUE-API-KEY":    a.creds.ApiKey,
		"VENUE-SIGNATURE":  signature,
		"VENUE-TIMESTAMP":  timestamp,
	}, nil
}
