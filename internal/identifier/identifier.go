// Package identifier generates short, collision-resistant opaque identifiers
// used for connection handles, project cache handles, and task invoker
// handles exchanged over the daemon's RPC surface.
package identifier

import (
	"crypto/rand"
	"errors"
	"regexp"
	"strings"

	"github.com/eknkc/basex"
)

const (
	// PrefixConnection prefixes identifiers for the RPC connections accepted
	// by internal/rpcserver.
	PrefixConnection = "conn"
	// PrefixProject prefixes identifiers for cached SakerProjectCache handles
	// returned by getProject.
	PrefixProject = "proj"
	// PrefixInvoker prefixes identifiers for cluster task invoker
	// registrations.
	PrefixInvoker = "invk"
	// PrefixExecution prefixes identifiers for cluster execution keys handed
	// to clusterStarting/clusterFinished.
	PrefixExecution = "exec"

	// requiredPrefixLength is the required length for identifier prefixes.
	requiredPrefixLength = 4
	// collisionResistantLength is the number of random bytes used to build an
	// identifier.
	collisionResistantLength = 24
	// alphabet is the Base62 alphabet used to render identifiers.
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// targetEncodedLength is the padded length of the Base62-encoded portion,
	// computed as ceil(collisionResistantLength*8*ln(2)/ln(62)).
	targetEncodedLength = 33
)

var encoder *basex.Encoding

func init() {
	e, err := basex.NewEncoding(alphabet)
	if err != nil {
		panic("unable to initialize identifier encoder")
	}
	encoder = e
}

// matcher validates identifiers produced by New.
var matcher = regexp.MustCompile("^[a-z]{4}_[0-9a-zA-Z]{" + "33" + "}$")

// New generates a new identifier with the given four-character lowercase
// prefix (one of the Prefix* constants).
func New(prefix string) (string, error) {
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("identifier prefix must have length 4")
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return "", errors.New("identifier prefix must be lowercase ASCII")
		}
	}

	raw := make([]byte, collisionResistantLength)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New("unable to generate random identifier bytes")
	}

	encoded := encoder.Encode(raw)
	if len(encoded) > targetEncodedLength {
		panic("encoded identifier longer than expected")
	}

	builder := &strings.Builder{}
	builder.WriteString(prefix)
	builder.WriteByte('_')
	for i := targetEncodedLength - len(encoded); i > 0; i-- {
		builder.WriteByte(alphabet[0])
	}
	builder.WriteString(encoded)

	return builder.String(), nil
}

// IsValid reports whether value looks like an identifier produced by New.
func IsValid(value string) bool {
	return matcher.MatchString(value)
}
