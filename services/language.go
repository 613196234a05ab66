package services

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLanguageExpiration = 30 * time.Minute
	languageCleanupInterval   = 10 * time.Minute
)

// LanguageSink persists language preferences. BoltStore implements it.
type LanguageSink interface {
	SaveLanguage(uid uint32, lang string) error
	LoadLanguage(uid uint32) (string, error)
}

// LanguageCache keeps the negotiated language per player. Set is a single
// atomic replace, so concurrent handshakes never interleave a read and a
// write of the same entry.
type LanguageCache struct {
	cache *gocache.Cache
	sink  LanguageSink
}

// NewLanguageCache creates a cache; sink may be nil.
func NewLanguageCache(expiration time.Duration, sink LanguageSink) *LanguageCache {
	if expiration <= 0 {
		expiration = defaultLanguageExpiration
	}
	return &LanguageCache{
		cache: gocache.New(expiration, languageCleanupInterval),
		sink:  sink,
	}
}

func (c *LanguageCache) Set(uid uint32, lang string) {
	c.cache.SetDefault(uidKey(uid), lang)
	if c.sink != nil {
		if err := c.sink.SaveLanguage(uid, lang); err != nil {
			log.WithField("uid", uid).Error("save language: ", err)
		}
	}
}

// Get returns the cached preference, falling back to the sink.
func (c *LanguageCache) Get(uid uint32) (string, bool) {
	if v, ok := c.cache.Get(uidKey(uid)); ok {
		return v.(string), true
	}
	if c.sink == nil {
		return "", false
	}
	lang, err := c.sink.LoadLanguage(uid)
	if err != nil || lang == "" {
		return "", false
	}
	c.cache.SetDefault(uidKey(uid), lang)
	return lang, true
}
