package crypto

import "crypto/rand"

func cryptoRandReader(b []byte) (int, error) {
	return rand.Read(b)
}
