package node

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainNode separates node hashes from any other hash computed over the
// same canonical bytes. The version suffix allows an algorithm migration.
const DomainNode = "treesync/node/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash identifies n's content, priorities included. Equal nodes hash
// equal. Transactions send it as the write precondition.
func (n *Node) Hash() string {
	return hashWithDomain(DomainNode, []byte(n.String()))
}
