/*
Package randx provides functions for generating cryptographically secure random identifiers.

It is used for Base62 room ids, UUID message ids and fallback nicknames.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// RoomIDLength is the fixed length of a generated room id.
	RoomIDLength = 10
)

// Base62 returns n characters drawn from crypto/rand.
func Base62(n int) (string, error) {
	result := make([]byte, n)

	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// RoomID generates a Base62 room id of RoomIDLength characters.
func RoomID() (string, error) {
	return Base62(RoomIDLength)
}

// IsValidRoomID checks length and alphabet of a room id taken from a URL.
func IsValidRoomID(id string) bool {
	if len(id) != RoomIDLength {
		return false
	}

	for _, char := range id {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// FanNickname generates a display name for fans whose profile carries none.
func FanNickname() (string, error) {
	suffix, err := Base62(6)
	if err != nil {
		return "", err
	}
	return "Fan_" + suffix, nil
}
