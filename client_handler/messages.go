package client_handler

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

const MsgAlreadyLogin = "already_login"

// Messages renders user-facing rejection texts by locale. Requested
// languages are matched against the registered BCP 47 tags, so "zh" covers
// zh-CN, zh-Hans and zh_HK. The text registered under "" (und) is the
// fallback.
type Messages struct {
	mu    sync.RWMutex
	texts map[string]*catalog
}

// catalog keeps the texts of one key. tags[0] is always und.
type catalog struct {
	tags    []language.Tag
	texts   []string
	matcher language.Matcher
}

func NewMessages() *Messages {
	m := &Messages{texts: make(map[string]*catalog)}
	m.Register(MsgAlreadyLogin, "", "Your account has logged in elsewhere.")
	m.Register(MsgAlreadyLogin, "zh", "您的账号已在其他设备登录。")
	return m
}

func parseLocale(s string) (language.Tag, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	if s == "" {
		return language.Und, nil
	}
	return language.Parse(s)
}

// Register adds or replaces the text for key under a locale.
func (m *Messages) Register(key, locale, text string) error {
	tag, err := parseLocale(locale)
	if err != nil {
		return errors.Wrapf(err, "message %v: locale %q", key, locale)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.texts[key]
	if !ok {
		c = &catalog{tags: []language.Tag{language.Und}, texts: []string{""}}
		m.texts[key] = c
	}
	for i, t := range c.tags {
		if t.String() == tag.String() {
			c.texts[i] = text
			return nil
		}
	}
	c.tags = append(c.tags, tag)
	c.texts = append(c.texts, text)
	c.matcher = language.NewMatcher(c.tags)
	return nil
}

// Render returns the text for key in lang, the fallback text when no
// registered locale fits, or key itself when nothing is registered.
func (m *Messages) Render(key, lang string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.texts[key]
	if c == nil {
		return key
	}
	if text := c.texts[c.lookup(lang)]; text != "" {
		return text
	}
	return key
}

func (c *catalog) lookup(lang string) int {
	want, err := parseLocale(lang)
	if err != nil || want.IsRoot() || c.matcher == nil {
		return 0
	}
	_, i, conf := c.matcher.Match(want)
	if conf != language.No {
		return i
	}
	// same language in another script or region still beats the fallback
	base, _ := want.Base()
	for i, t := range c.tags[1:] {
		if b, _ := t.Base(); b == base {
			return i + 1
		}
	}
	return 0
}
