// Package i18n renders user-facing messages in Arabic or English.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const (
	Arabic  = "ar"
	English = "en"
	Default = Arabic
)

type Key string

const (
	ErrNotFound           Key = "error.notFound"
	ErrInsufficientStock  Key = "error.insufficientStock"
	ErrOverReturn         Key = "error.overReturn"
	ErrInvalidInput       Key = "error.invalidInput"
	ErrForbidden          Key = "error.forbidden"
	ErrUnauthorized       Key = "error.unauthorized"
	ErrInvalidCredentials Key = "error.invalidCredentials"
	ErrTooManyRequests    Key = "error.tooManyRequests"
	ErrInternal           Key = "error.internal"
	MsgLoggedOut          Key = "auth.loggedOut"
)

var catalogs = map[string]map[Key]string{
	Arabic: {
		ErrNotFound:           "العنصر غير موجود",
		ErrInsufficientStock:  "الكمية المطلوبة غير متوفرة في المخزون. {detail}",
		ErrOverReturn:         "كمية الإرجاع تتجاوز الكمية المتبقية. {detail}",
		ErrInvalidInput:       "بيانات غير صالحة. {detail}",
		ErrForbidden:          "ليست لديك صلاحية لهذا الإجراء",
		ErrUnauthorized:       "يجب تسجيل الدخول أولاً",
		ErrInvalidCredentials: "اسم المستخدم أو كلمة المرور غير صحيحة",
		ErrTooManyRequests:    "محاولات كثيرة، حاول مرة أخرى لاحقاً",
		ErrInternal:           "حدث خطأ في الخادم",
		MsgLoggedOut:          "تم تسجيل الخروج",
	},
	English: {
		ErrNotFound:           "Item not found",
		ErrInsufficientStock:  "Not enough stock for this sale. {detail}",
		ErrOverReturn:         "Return quantity exceeds what is still outstanding. {detail}",
		ErrInvalidInput:       "Invalid input. {detail}",
		ErrForbidden:          "You are not allowed to do this",
		ErrUnauthorized:       "Please log in first",
		ErrInvalidCredentials: "Invalid username or password",
		ErrTooManyRequests:    "Too many attempts, try again later",
		ErrInternal:           "Internal server error",
		MsgLoggedOut:          "Logged out",
	},
}

var matcher = language.NewMatcher([]language.Tag{language.Arabic, language.English})

var supported = []string{Arabic, English}

// T looks up key in lang's catalog, falling back to the default language and
// then to the key itself. Every {name} in the message is replaced by
// fmt.Sprint(replacements[name]); unused placeholders are removed.
func T(lang string, key Key, replacements map[string]any) string {
	msg, ok := catalogs[Normalize(lang)][key]
	if !ok {
		msg, ok = catalogs[Default][key]
	}
	if !ok {
		msg = string(key)
	}
	for name, value := range replacements {
		msg = strings.ReplaceAll(msg, "{"+name+"}", fmt.Sprint(value))
	}
	return strings.TrimSpace(strings.ReplaceAll(msg, "{detail}", ""))
}

// Normalize maps a language tag to a supported catalog, defaulting to Arabic.
func Normalize(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return Default
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Default
	}
	return supported[idx]
}

// Negotiate picks a catalog from an Accept-Language header. An empty or
// unparseable header yields fallback.
func Negotiate(acceptLanguage string, fallback string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return Normalize(fallback)
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Normalize(fallback)
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Normalize(fallback)
	}
	return supported[idx]
}
