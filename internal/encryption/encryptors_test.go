package encryption

import (
	"bytes"
	"testing"

	"snipsync/internal/config"
)

func TestPassthroughEncryptors_RoundTrip(t *testing.T) {
	t.Parallel()

	encryptors := map[string]Encryptor{
		"test": NewTestEncryptor(),
		"none": NoneEncryptor{},
	}
	inputs := map[string][]byte{
		"ledger bytes": []byte("SQLite format 3\x00"),
		"empty":        {},
	}

	for kind, e := range encryptors {
		for name, input := range inputs {
			t.Run(kind+"/"+name, func(t *testing.T) {
				if !e.IsConfigured() {
					t.Error("IsConfigured() = false, want true")
				}

				var encrypted bytes.Buffer
				if err := e.Encrypt(bytes.NewReader(input), &encrypted); err != nil {
					t.Fatalf("Encrypt() error = %v", err)
				}
				if kind == "test" && !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
					t.Error("encrypted output does not start with test header")
				}

				dc, err := e.Unlock("any-passphrase")
				if err != nil {
					t.Fatalf("Unlock() error = %v", err)
				}
				var decrypted bytes.Buffer
				if err := dc.Decrypt(&encrypted, &decrypted); err != nil {
					t.Fatalf("Decrypt() error = %v", err)
				}
				if !bytes.Equal(decrypted.Bytes(), input) {
					t.Errorf("round-trip = %q, want %q", decrypted.Bytes(), input)
				}
			})
		}
	}
}

func TestTestDecryptionContext_RejectsForeignData(t *testing.T) {
	t.Parallel()

	for name, data := range map[string][]byte{
		"wrong header": []byte("NOT_VALID_HEADER_data"),
		"truncated":    []byte("SNIP"),
		"empty":        nil,
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(data), &out); err == nil {
				t.Error("Decrypt() expected error, got nil")
			}
		})
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{typ: "", want: "*encryption.AgeEncryptor"},
		{typ: "age", want: "*encryption.AgeEncryptor"},
		{typ: "none", want: "encryption.NoneEncryptor"},
		{typ: "test", want: "*encryption.TestEncryptor"},
		{typ: "rot13", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("type="+tt.typ, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewEncryptorFromConfig(%q) expected error", tt.typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig(%q) error = %v", tt.typ, err)
			}
			if gotType := typeName(got); gotType != tt.want {
				t.Errorf("NewEncryptorFromConfig(%q) = %s, want %s", tt.typ, gotType, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *AgeEncryptor:
		return "*encryption.AgeEncryptor"
	case NoneEncryptor:
		return "encryption.NoneEncryptor"
	case *TestEncryptor:
		return "*encryption.TestEncryptor"
	}
	return "unknown"
}
