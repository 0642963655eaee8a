package i18n

import "errors"

// DefaultLocale is the locale every Translation must carry.
const DefaultLocale = "en_US"

var ErrMissingDefaultLocale = errors.New("translation is missing the en_US locale")

// Translation maps locale tags (e.g. "en_US") to display strings.
type Translation map[string]string

// Validate checks that the default locale is present.
func (t Translation) Validate() error {
	if t == nil {
		return ErrMissingDefaultLocale
	}
	if _, ok := t[DefaultLocale]; !ok {
		return ErrMissingDefaultLocale
	}
	return nil
}

// Get returns the display string for locale, falling back to en_US.
func (t Translation) Get(locale string) string {
	if v, ok := t[locale]; ok {
		return v
	}
	return t[DefaultLocale]
}

// Text is a convenience constructor for a Translation carrying only en_US.
func Text(s string) Translation {
	return Translation{DefaultLocale: s}
}

// Merge overlays t onto base, returning a new Translation. Locales present
// in t win.
func Merge(base, t Translation) Translation {
	if base == nil && t == nil {
		return nil
	}
	out := make(Translation, len(base)+len(t))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range t {
		out[k] = v
	}
	return out
}

// String implements fmt.Stringer for log output.
func (t Translation) String() string {
	return t.Get(DefaultLocale)
}
