package config

// redacted replaces every non-empty Secret in rendered output.
const redacted = "[REDACTED]"

// Secret holds a credential loaded from the config file or environment. Every
// printing and encoding path shows a placeholder; only Reveal returns the value.
type Secret string

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool { return s != "" }

// Reveal returns the raw value for the client that needs it.
func (s Secret) Reveal() string { return string(s) }

// mask keeps an unset secret visibly empty so a missing key is still obvious in a dump.
func (s Secret) mask() string {
	if !s.IsSet() {
		return ""
	}
	return redacted
}

func (s Secret) String() string { return s.mask() }

func (s Secret) GoString() string { return `"` + s.mask() + `"` }

func (s Secret) MarshalYAML() (interface{}, error) { return s.mask(), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + s.mask() + `"`), nil }
