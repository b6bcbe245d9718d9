package thought

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

// IDPrefix starts every generated thought id.
const IDPrefix = "th_"

const (
	idAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idTokenLength = 8
)

// NewID returns a fresh identifier: IDPrefix, a random alphanumeric token and
// the creation time in hexadecimal milliseconds. Storage is not consulted for
// collisions.
func NewID(now time.Time) string {
	var b strings.Builder
	b.Grow(len(IDPrefix) + idTokenLength + 12)
	b.WriteString(IDPrefix)
	b.WriteString(randomToken(idTokenLength))
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 16))
	return b.String()
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read never returns an error on supported platforms.
		panic(err)
	}
	for i, c := range buf {
		buf[i] = idAlphabet[int(c)%len(idAlphabet)]
	}
	return string(buf)
}
