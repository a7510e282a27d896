package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignChannel returns "<key>:<hex hmac-sha256(socketID:channel)>".
func SignChannel(key, secret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(socketID + ":" + channel))
	return key + ":" + hex.EncodeToString(mac.Sum(nil))
}

func VerifyChannel(signature, key, secret, socketID, channel string) bool {
	if !strings.HasPrefix(signature, key+":") {
		return false
	}
	want := SignChannel(key, secret, socketID, channel)
	return hmac.Equal([]byte(signature), []byte(want))
}
