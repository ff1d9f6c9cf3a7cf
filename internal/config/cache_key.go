package config

import (
	"fmt"
	"strings"
)

// keyPart escapes the separator so arbitrary ids cannot collide: "a:b"+"c"
// and "a"+"b:c" map to different keys. Ids without '%' or ':' are unchanged.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A")

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the hash key holding question_id -> selected_option
// for one attempt.
func (r *CacheKeyStruct) AttemptAnswersKey(userID, examID string) string {
	return fmt.Sprintf("exam_state:%s:%s", keyPart.Replace(userID), keyPart.Replace(examID))
}

// AttemptTimerKey returns the key holding the client-reported seconds remaining.
func (r *CacheKeyStruct) AttemptTimerKey(userID, examID string) string {
	return fmt.Sprintf("exam_timer:%s:%s", keyPart.Replace(userID), keyPart.Replace(examID))
}

// AttemptLockKey returns the key of the per-attempt exclusive (finalize) holder.
func (r *CacheKeyStruct) AttemptLockKey(userID, examID string) string {
	return fmt.Sprintf("exam_lock:%s:%s", keyPart.Replace(userID), keyPart.Replace(examID))
}

// AttemptReadersKey returns the sorted set of shared (submit) lock holders.
func (r *CacheKeyStruct) AttemptReadersKey(userID, examID string) string {
	return fmt.Sprintf("exam_lock_readers:%s:%s", keyPart.Replace(userID), keyPart.Replace(examID))
}

var CacheKey = NewCacheKeyStruct()
