package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Catalog holds the options offered for channel and location.
type Catalog struct {
	Channels  []string
	Locations []string
}

// DefaultCatalog returns the built-in option lists.
func DefaultCatalog() Catalog {
	return Catalog{
		Channels:  []string{"Channel 1", "Channel 2", "Channel 3", "Channel 4", "Channel 5", "Channel 6"},
		Locations: []string{"New York", "Los Angeles", "Chicago", "Houston", "Phoenix", "Philadelphia"},
	}
}

// Options returns the option list for a field (nil for date fields).
func (c Catalog) Options(f Field) []string {
	switch f {
	case FieldChannel:
		return c.Channels
	case FieldLocation:
		return c.Locations
	}
	return nil
}

// Resolve maps user input to an option of f: either a 1-based index into
// the list or a case-insensitive option name.
func (c Catalog) Resolve(f Field, in string) (string, bool) {
	opts := c.Options(f)
	in = strings.TrimSpace(in)
	if in == "" {
		return "", false
	}
	if n, err := strconv.Atoi(in); err == nil {
		if n >= 1 && n <= len(opts) {
			return opts[n-1], true
		}
		return "", false
	}
	for _, o := range opts {
		if strings.EqualFold(o, in) {
			return o, true
		}
	}
	return "", false
}

// Validate checks that both lists are non-empty, have no duplicates, and
// never contain a placeholder.
func (c Catalog) Validate() error {
	check := func(name, placeholder string, opts []string) error {
		if len(opts) == 0 {
			return fmt.Errorf("catalog.%s must not be empty", name)
		}
		seen := make(map[string]struct{}, len(opts))
		for _, o := range opts {
			o = strings.TrimSpace(o)
			if o == "" {
				return fmt.Errorf("catalog.%s: empty option", name)
			}
			if o == placeholder {
				return fmt.Errorf("catalog.%s: %q is reserved", name, placeholder)
			}
			if _, dup := seen[strings.ToLower(o)]; dup {
				return fmt.Errorf("catalog.%s: duplicate option %q", name, o)
			}
			seen[strings.ToLower(o)] = struct{}{}
		}
		return nil
	}
	if err := check("channels", ChannelPlaceholder, c.Channels); err != nil {
		return err
	}
	return check("locations", LocationPlaceholder, c.Locations)
}
