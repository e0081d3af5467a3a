package report

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vova616/xxhash"
)

// canonicalRequest fixes field order and scalar encodings for hashing.
type canonicalRequest struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Centers   []string `json:"centers"`
	Norm      Norm     `json:"norm"`
	Cycles    []int    `json:"cycles"`
	Platforms []string `json:"platforms"`
}

// Canonicalize serializes the request deterministically whether or not it came from Parse. Set
// fields are emitted deduplicated and sorted, platforms and the norm lowercased, dates as the UTC
// day in YYYYMMDD and cycles as integers.
func Canonicalize(r *Request) []byte {
	platforms := make([]string, 0, len(r.Platforms))
	for _, p := range r.Platforms {
		platforms = append(platforms, strings.ToLower(p))
	}
	c := canonicalRequest{
		StartDate: r.StartDate.UTC().Format(DateLayout),
		EndDate:   r.EndDate.UTC().Format(DateLayout),
		Centers:   uniqueSorted(r.Centers),
		Norm:      Norm(strings.ToLower(string(r.Norm))),
		Cycles:    uniqueSortedInts(r.Cycles),
		Platforms: uniqueSorted(platforms),
	}
	// set members are strings and ints, marshal cannot fail
	data, _ := json.Marshal(c)
	return data
}

func uniqueSortedInts(values []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// Hash returns the hex sha256 digest of the canonical request. It is the job key and the cache
// prefix of produced artifacts.
func Hash(r *Request) string {
	sum := sha256.Sum256(Canonicalize(r))
	return hex.EncodeToString(sum[:])
}

// ReferenceID derives a short support identifier for one run of a request, seeded by the arrival
// time so that it never doubles as a lookup key.
func ReferenceID(r *Request, arrival time.Time) string {
	seeded := make([]byte, 8, 8+64)
	binary.BigEndian.PutUint64(seeded, uint64(arrival.UnixNano()))
	seeded = append(seeded, Canonicalize(r)...)
	return fmt.Sprintf("%s-%08x", arrival.UTC().Format(DateLayout), xxhash.Checksum32(seeded))
}
