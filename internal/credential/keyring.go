// Package credential stores IMAP passwords in the system keyring so
// they never land in the config file.
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "parcelwatch"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/parcelwatch/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("parcelwatch-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// imapKey is the keyring key for an account's IMAP password.
func imapKey(accountID string) string {
	return "imap-password:" + accountID
}

// SetIMAPPassword stores the IMAP password for an account.
func SetIMAPPassword(accountID, password string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  imapKey(accountID),
		Data: []byte(password),
	})
	if err != nil {
		return fmt.Errorf("storing password for account %q: %w", accountID, err)
	}

	return nil
}

// IMAPPassword retrieves the IMAP password for an account.
func IMAPPassword(accountID string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(imapKey(accountID))
	if err != nil {
		return "", fmt.Errorf("reading password for account %q: %w", accountID, err)
	}

	return string(item.Data), nil
}

// DeleteIMAPPassword removes the stored IMAP password for an account.
func DeleteIMAPPassword(accountID string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(imapKey(accountID))
	if err != nil {
		return fmt.Errorf("deleting password for account %q: %w", accountID, err)
	}

	return nil
}
