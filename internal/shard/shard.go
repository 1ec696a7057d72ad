// Package shard computes sharded object keys for blob storage.
package shard

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
)

// Suffix is the file extension of every document object.
const Suffix = ".json"

// Shard returns the two hex digit shard for id.
// With numShards=1, all ids go to shard "00".
// With numShards>1, ids are distributed across shards based on their hash.
func Shard(id string, numShards int) string {
	if numShards <= 1 {
		return "00"
	}
	if numShards > 256 {
		numShards = 256
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%02x", h.Sum32()%uint32(numShards))
}

// Root normalizes a key prefix: no leading slash, exactly one trailing
// slash, or the empty string for the bucket root.
func Root(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// ObjectKey builds "<prefix>/<shard>/<application>/<id>.json".
// Application and id are path-escaped so neither can introduce extra
// key segments.
func ObjectKey(prefix, application, id string, numShards int) string {
	return Root(prefix) + Shard(id, numShards) + "/" +
		url.PathEscape(application) + "/" + url.PathEscape(id) + Suffix
}

// ParseObjectKey reverses ObjectKey. It reports false for keys outside
// prefix or keys that do not follow the layout (marker objects included).
func ParseObjectKey(prefix, key string) (application, id string, ok bool) {
	root := Root(prefix)
	if !strings.HasPrefix(key, root) || !strings.HasSuffix(key, Suffix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(key[len(root):], Suffix), "/")
	if len(parts) != 3 || len(parts[0]) != 2 {
		return "", "", false
	}
	application, err := url.PathUnescape(parts[1])
	if err != nil || application == "" {
		return "", "", false
	}
	id, err = url.PathUnescape(parts[2])
	if err != nil || id == "" {
		return "", "", false
	}
	return application, id, true
}
