package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamTemplateKey returns the cache key for a loaded exam template document.
func (r *CacheKeyStruct) ExamTemplateKey(ref string) string {
	return fmt.Sprintf("template:%s:document", ref)
}

// StudentSessionKey returns the cache key for a student's login session.
func (r *CacheKeyStruct) StudentSessionKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

var CacheKey = NewCacheKeyStruct()
