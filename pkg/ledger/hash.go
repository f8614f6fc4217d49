package ledger

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// contractAddress derives the address of a contract deployed by sender at nonce.
func contractAddress(sender string, nonce uint64) string {
	sum := keccak([]byte(sender), uint64Bytes(nonce))
	return "0x" + hex.EncodeToString(sum[12:])
}

func txHash(kind TxKind, sender, recipient string, nonce uint64, value string, data []byte) string {
	return "0x" + hex.EncodeToString(keccak(
		[]byte(kind), []byte(sender), []byte(recipient), uint64Bytes(nonce), []byte(value), data,
	))
}

func blockHash(parent string, number uint64, txs ...string) string {
	parts := [][]byte{[]byte(parent), uint64Bytes(number)}
	for _, tx := range txs {
		parts = append(parts, []byte(tx))
	}
	return "0x" + hex.EncodeToString(keccak(parts...))
}
