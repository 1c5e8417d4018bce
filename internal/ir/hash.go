package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content hashes.
// The version suffix allows a future algorithm change without collisions.
const (
	DomainShard   = "flux/shard/v1"
	DomainMessage = "flux/message/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ShardBucket maps a routing key onto one of 256 buckets.
// The mapping depends only on the key, so it is stable for the lifetime of
// any partition table built on top of it.
func ShardBucket(key string) uint8 {
	sum := hashWithDomain(DomainShard, []byte(key))
	return sum[0]
}

// contentHash returns the hex digest of data under domain.
func contentHash(domain string, data []byte) string {
	sum := hashWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}
