// Package contentstore is a content-addressed block store and the file
// facade exposed to dapps.
//
// Native ids are base58 multihashes: a two byte header (0x12 sha2-256,
// 0x20 length) followed by the 32 byte digest. Callers only ever see the
// digest, hex encoded with a 0x prefix.
package contentstore

import (
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// HashLength is the size of the raw digest exposed to callers.
const HashLength = 32

// ErrInvalidID indicates a malformed native id or raw hash.
var ErrInvalidID = errors.New("invalid content id")

// Sum returns the native id of data.
func Sum(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return base58.Encode(mh), nil
}

// StripHeader converts a native id into the 0x-prefixed 32 byte digest.
func StripHeader(id string) (string, error) {
	raw, err := base58.Decode(id)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidID, "%q: %v", id, err)
	}
	decoded, err := multihash.Decode(raw)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidID, "%q: %v", id, err)
	}
	if decoded.Code != multihash.SHA2_256 || decoded.Length != HashLength {
		return "", errors.Wrapf(ErrInvalidID, "%q: unsupported hash %s/%d", id, decoded.Name, decoded.Length)
	}
	return "0x" + hex.EncodeToString(decoded.Digest), nil
}

// PrependHeader converts a raw digest, with or without 0x, into a native id.
func PrependHeader(hash string) (string, error) {
	digest, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hash), "0x"))
	if err != nil || len(digest) != HashLength {
		return "", errors.Wrapf(ErrInvalidID, "%q", hash)
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", err
	}
	return base58.Encode(mh), nil
}
