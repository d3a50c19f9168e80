package sharding

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// HashFunc maps a key to a point of the signed 32 bits ring
type HashFunc func(key []byte) int32

// HashMD5 takes the first 4 bytes of the md5 digest as a big-endian
// signed integer, the placement used by the java and python clients
func HashMD5(key []byte) int32 {
	sum := md5.Sum(key)
	return int32(binary.BigEndian.Uint32(sum[:4]))
}

func HashXX(key []byte) int32 {
	return int32(uint32(xxhash.Sum64(key)))
}

func HashMurmur3(key []byte) int32 {
	return int32(murmur3.Sum32(key))
}

// HashByName returns the hash function for the config names md5, xxhash
// and murmur3, an empty name is md5
func HashByName(name string) (HashFunc, error) {
	switch name {
	case "", "md5":
		return HashMD5, nil
	case "xxhash":
		return HashXX, nil
	case "murmur3":
		return HashMurmur3, nil
	}
	return nil, fmt.Errorf("ssdb: unknown hash %q", name)
}
