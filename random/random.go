package random

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"
)

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Length of the random part of a provider style id.
const idLength = 24

func init() {
	var b [8]byte
	_, err := crand.Read(b[:])
	if err != nil {
		mrand.Seed(time.Now().UnixNano())
		return
	}
	mrand.Seed(int64(binary.LittleEndian.Uint64(b[:])))
}

func String(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[mrand.Intn(len(charset))]
	}
	return string(b)
}

// ID returns an id shaped like the payment provider's, e.g. "cs_test_4eC39HqLyjWDarjtT1zdp7dc".
func ID(prefix string) string {
	return prefix + "_" + String(idLength)
}
