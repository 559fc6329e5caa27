package util

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
)

func GenerateRandomBytes(nBytes int) ([]byte, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func GetSha1OfString(str string) string {
	hasher := sha1.New()
	hasher.Write([]byte(str))
	return hex.EncodeToString(hasher.Sum(nil))
}
