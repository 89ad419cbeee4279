package redis

import "github.com/xraph/asyncexec/job"

// Redis key naming conventions. The braces form a hash tag so every key
// maps to the same cluster slot.
const keyPrefix = "{asyncexec}:"

// jobKey returns the key of one row: {asyncexec}:{kind}:job:{id}
func jobKey(kind job.Kind, id string) string {
	return keyPrefix + string(kind) + ":job:" + id
}

// idsKey returns the Set of row IDs of one kind: {asyncexec}:{kind}:ids
func idsKey(kind job.Kind) string { return keyPrefix + string(kind) + ":ids" }

// lockKey returns the key of a process instance lock: {asyncexec}:lock:{pid}
func lockKey(processInstanceID string) string { return keyPrefix + "lock:" + processInstanceID }
