// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package i18n localizes the user-facing texts of outgoing messages.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed translations/*.toml
var translationFS embed.FS

// Message IDs used outside of this package.
const (
	MsgOTPSubject   = "otp_email_subject"
	MsgOTPGreeting  = "otp_email_greeting"
	MsgOTPBody      = "otp_email_body"
	MsgOTPExpiry    = "otp_email_expiry"
	MsgOTPIgnore    = "otp_email_ignore"
	MsgOTPSignature = "otp_email_signature"
)

var supported = []language.Tag{language.English, language.German}

var (
	bundle   *i18n.Bundle
	initOnce sync.Once
	initErr  error
)

type localizerContextKey struct{}

// Init loads the embedded translations. Subsequent calls are no-ops.
func Init() error {
	initOnce.Do(func() {
		b := i18n.NewBundle(language.English)
		b.RegisterUnmarshalFunc("toml", toml.Unmarshal)

		for _, tag := range supported {
			file := fmt.Sprintf("translations/active.%s.toml", tag)
			if _, err := b.LoadMessageFileFS(translationFS, file); err != nil {
				initErr = fmt.Errorf("loading %s: %w", file, err)
				return
			}
		}
		bundle = b
	})
	return initErr
}

// WithLocale attaches a localizer for lang to the context.
func WithLocale(ctx context.Context, lang language.Tag) context.Context {
	return context.WithValue(ctx, localizerContextKey{}, localizer{
		tag: lang,
		l:   i18n.NewLocalizer(bundle, lang.String()),
	})
}

// Locale returns the base language of the context locale, "en" by default.
func Locale(ctx context.Context) string {
	if loc, ok := ctx.Value(localizerContextKey{}).(localizer); ok {
		base, _ := loc.tag.Base()
		return base.String()
	}
	return "en"
}

// T translates a message by ID. Unknown IDs are returned unchanged.
func T(ctx context.Context, messageID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: messageID})
}

// TData translates a message with template data.
func TData(ctx context.Context, messageID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
}

// TPlural translates a message with plural support. Count is added to data.
func TPlural(ctx context.Context, messageID string, count int, data map[string]any) string {
	td := map[string]any{"Count": count}
	for k, v := range data {
		td[k] = v
	}
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    messageID,
		PluralCount:  count,
		TemplateData: td,
	})
}

// MatchLanguage matches the best supported language from an Accept-Language header.
func MatchLanguage(acceptLanguage string) language.Tag {
	tag, _ := language.MatchStrings(language.NewMatcher(supported), acceptLanguage)
	return tag
}

type localizer struct {
	tag language.Tag
	l   *i18n.Localizer
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	l := fallback()
	if loc, ok := ctx.Value(localizerContextKey{}).(localizer); ok {
		l = loc.l
	}
	if l == nil {
		return cfg.MessageID
	}
	msg, err := l.Localize(cfg)
	if err != nil {
		return cfg.MessageID
	}
	return msg
}

func fallback() *i18n.Localizer {
	if bundle == nil {
		return nil
	}
	return i18n.NewLocalizer(bundle, language.English.String())
}
