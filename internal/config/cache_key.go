package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestDefinitionKey returns the cache key for a loaded test definition
func (r *CacheKeyStruct) TestDefinitionKey(examType, paperID string) string {
	return fmt.Sprintf("paper:%s:%s:definition", examType, paperID)
}

// SessionSnapshotKey returns the cache key for the autosaved snapshot of a live session
func (r *CacheKeyStruct) SessionSnapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

// PaperMonitorChannel returns the Redis PubSub channel name for a paper's attempt monitor
func (r *CacheKeyStruct) PaperMonitorChannel(examType, paperID string) string {
	return fmt.Sprintf("paper:%s:%s:monitor", examType, paperID)
}

var CacheKey = NewCacheKeyStruct()
