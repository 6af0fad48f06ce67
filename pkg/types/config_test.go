package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	customersID = "0190f3e4-7b2a-7c4d-9e1f-2a3b4c5d6e7f"
	ordersID    = "0190f3e4-7b2a-7c4d-9e1f-2a3b4c5d6e80"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty base URL returns ErrBaseURLInvalid",
			config:  Config{Tables: map[string]string{"customers": customersID}},
			wantErr: ErrBaseURLInvalid,
		},
		{
			name:    "relative base URL returns ErrBaseURLInvalid",
			config:  Config{BaseURL: "/api", Tables: map[string]string{"customers": customersID}},
			wantErr: ErrBaseURLInvalid,
		},
		{
			name:    "unsupported scheme returns ErrBaseURLInvalid",
			config:  Config{BaseURL: "ftp://example.com", Tables: map[string]string{"customers": customersID}},
			wantErr: ErrBaseURLInvalid,
		},
		{
			name:    "no tables returns ErrNoTables",
			config:  Config{BaseURL: "https://api.example.com"},
			wantErr: ErrNoTables,
		},
		{
			name:    "blank table name returns ErrTableNameEmpty",
			config:  Config{BaseURL: "https://api.example.com", Tables: map[string]string{" ": customersID}},
			wantErr: ErrTableNameEmpty,
		},
		{
			name:    "non-uuid table id returns ErrTableIDInvalid",
			config:  Config{BaseURL: "https://api.example.com", Tables: map[string]string{"customers": "cust-1"}},
			wantErr: ErrTableIDInvalid,
		},
		{
			name:    "braced uuid is rejected",
			config:  Config{BaseURL: "https://api.example.com", Tables: map[string]string{"customers": "{" + customersID + "}"}},
			wantErr: ErrTableIDInvalid,
		},
		{
			name: "valid config",
			config: Config{BaseURL: "http://127.0.0.1:8080", Tables: map[string]string{
				"customers": customersID,
				"orders":    ordersID,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected %v to match ErrValidation", err)
			}
		})
	}
}

func TestConfigValidate_NamesInvalidTables(t *testing.T) {
	cfg := Config{BaseURL: "https://api.example.com", Tables: map[string]string{
		"customers": customersID,
		"orders":    "bad-id",
	}}
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrTableIDInvalid)
	assert.Contains(t, err.Error(), "bad-id")
	assert.Contains(t, err.Error(), "table names: orders")
}

func TestConfigTableNamesAndIDs(t *testing.T) {
	cfg := Config{Tables: map[string]string{"orders": ordersID, "customers": customersID}}
	assert.Equal(t, []string{"customers", "orders"}, cfg.TableNames())
	assert.Equal(t, []string{customersID, ordersID}, cfg.TableIDs())
}

func TestNotFoundErrors(t *testing.T) {
	assert.ErrorIs(t, ErrTableNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrRecordNotFound, ErrNotFound)
	assert.NotErrorIs(t, ErrTableNotFound, ErrRecordNotFound)
	assert.Equal(t, "table not found", ErrTableNotFound.Error())
}

func TestRemoteErrorMatchesErrServer(t *testing.T) {
	var err error = &RemoteError{Op: "fetch schema", StatusCode: 500, Message: "boom"}
	assert.ErrorIs(t, err, ErrServer)
	assert.NotErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "fetch schema: server returned status 500: boom", err.Error())
}
