package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// VAPID key material on the wire is base64url without padding; an
// uncompressed P-256 public point is 65 bytes, the private scalar 32.
const (
	VAPIDPublicKeyBytes  = 65
	VAPIDPrivateKeyBytes = 32
)

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// It tries hex first, then the base64 variants (standard, raw and URL-safe;
// VAPID keys arrive URL-safe unpadded). If all decoding attempts fail, the
// input is treated as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	// Fallback to treating as raw bytes
	return []byte(v), nil
}

// KeyByteLength returns the decoded byte length of a key string.
// It supports hex, base64, and raw string encodings.
func KeyByteLength(value string) (int, error) {
	decoded, err := DecodeKey(value)
	if err != nil {
		return 0, nil
	}
	return len(decoded), nil
}

// ValidateVAPIDKeys sanity-checks a configured VAPID key pair. Both keys
// empty means push is deliberately disabled and is not an error; a half
// configured or wrongly sized pair is, because the sender would fail on
// every delivery.
func ValidateVAPIDKeys(publicKey, privateKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)

	if publicKey == "" && privateKey == "" {
		return nil
	}
	if publicKey == "" || privateKey == "" {
		return fmt.Errorf("vapid: both public and private keys must be set, or neither")
	}

	if n, _ := KeyByteLength(publicKey); n != VAPIDPublicKeyBytes {
		return fmt.Errorf("vapid: public key decodes to %d bytes, want %d", n, VAPIDPublicKeyBytes)
	}
	if n, _ := KeyByteLength(privateKey); n != VAPIDPrivateKeyBytes {
		return fmt.Errorf("vapid: private key decodes to %d bytes, want %d", n, VAPIDPrivateKeyBytes)
	}

	return nil
}
