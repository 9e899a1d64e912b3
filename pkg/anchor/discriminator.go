package anchor

import (
	"crypto/sha256"
	"fmt"
)

// DiscriminatorLength is the size of an anchor account or instruction tag.
const DiscriminatorLength = 8

// GetDiscriminator returns the first 8 bytes of sha256("namespace:name").
// Instructions use the "global" namespace, accounts use "account".
func GetDiscriminator(namespace, name string) []byte {
	preimage := fmt.Sprintf("%s:%s", namespace, name)
	hash := sha256.Sum256([]byte(preimage))
	return hash[:DiscriminatorLength]
}

// AccountDiscriminator returns the tag anchor writes in front of an account of type name.
func AccountDiscriminator(name string) []byte {
	return GetDiscriminator("account", name)
}

// InstructionDiscriminator returns the tag of instruction name.
func InstructionDiscriminator(name string) []byte {
	return GetDiscriminator("global", name)
}
