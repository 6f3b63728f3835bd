package vcs

import (
	"encoding/base64"
	"errors"
	"strings"
)

func asRequestError(err error, target **RequestError) bool {
	return errors.As(err, target)
}

// decodeBase64 handles the newline-wrapped base64 the contents API emits.
func decodeBase64(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
