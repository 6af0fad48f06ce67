package types

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the server location, credentials, and the logical table
// names a Database serves. Tables maps a name to the server table ID.
type Config struct {
	BaseURL       string            `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Token         string            `json:"token,omitempty" yaml:"token" mapstructure:"token"`
	Tables        map[string]string `json:"tables" yaml:"tables" mapstructure:"tables"`
	RetryAttempts int               `json:"retry_attempts,omitempty" yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `json:"retry_delay,omitempty" yaml:"retry_delay" mapstructure:"retry_delay"`
}

// Default retry policy for record queries.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Config validation errors. All match ErrValidation.
var (
	ErrBaseURLInvalid = fmt.Errorf("%w: base URL must be an absolute http or https URL", ErrValidation)
	ErrNoTables       = fmt.Errorf("%w: no tables configured", ErrValidation)
	ErrTableNameEmpty = fmt.Errorf("%w: table name must not be empty", ErrValidation)
	ErrTableIDInvalid = fmt.Errorf("%w: invalid table id", ErrValidation)
)

// maxTableIDLen rejects the braced and urn forms uuid.Parse also accepts.
const maxTableIDLen = 36

// Validate checks that the Config is well-formed. Every table ID must be a
// canonical UUID. The returned error names each offending table.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w (got %q)", ErrBaseURLInvalid, c.BaseURL)
	}
	if len(c.Tables) == 0 {
		return ErrNoTables
	}

	var invalidIDs, invalidNames []string
	for _, name := range c.TableNames() {
		if strings.TrimSpace(name) == "" {
			return ErrTableNameEmpty
		}
		id := c.Tables[name]
		if !IsTableID(id) {
			invalidIDs = append(invalidIDs, id)
			invalidNames = append(invalidNames, name)
		}
	}
	if len(invalidIDs) > 0 {
		return fmt.Errorf("%w: %s (table names: %s)", ErrTableIDInvalid,
			strings.Join(invalidIDs, ", "), strings.Join(invalidNames, ", "))
	}
	return nil
}

// TableNames returns the configured table names in sorted order.
func (c Config) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for name := range c.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TableIDs returns the configured table IDs ordered by table name.
func (c Config) TableIDs() []string {
	names := c.TableNames()
	ids := make([]string, len(names))
	for i, name := range names {
		ids[i] = c.Tables[name]
	}
	return ids
}

// IsTableID reports whether id is a canonical 36-character UUID.
func IsTableID(id string) bool {
	if len(id) != maxTableIDLen {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
