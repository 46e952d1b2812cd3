// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/cosignwallet/diffsync"
	"gopkg.in/yaml.v3"
)

// addressBookCollection names the synced collection of phone contacts.
const addressBookCollection = "address_book"

// minPhoneDigits is the shortest phone number accepted.
const minPhoneDigits = 3

var errInvalidPhoneNumber = errors.New("invalid phone number")

// addressBookFile is the YAML layout of the contacts file:
//
//	contacts:
//	  - name: Hal Finney
//	    phone: "+1 (555) 010-0100"
type addressBookFile struct {
	Contacts []addressBookEntry `yaml:"contacts"`
}

type addressBookEntry struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

// addressBookSource is a diffsync.Source reading a YAML contacts file.  Items
// are keyed by the normalized phone number and carry the contact name.
type addressBookSource struct {
	path string
}

var _ diffsync.Source = (*addressBookSource)(nil)

// Scan reads the whole contacts file.
func (s *addressBookSource) Scan(_ context.Context) ([]diffsync.Item, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var book addressBookFile
	if err := yaml.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	items := make([]diffsync.Item, 0, len(book.Contacts))
	for i, entry := range book.Contacts {
		key, err := normalizePhoneNumber(entry.Phone)
		if err != nil {
			return nil, fmt.Errorf("%s: contact %d (%s): %w",
				s.path, i, entry.Name, err)
		}
		items = append(items, diffsync.Item{
			Key:     key,
			Payload: []byte(entry.Name),
		})
	}

	return items, nil
}

// normalizePhoneNumber strips the formatting characters from a phone number,
// keeping the digits and a leading plus sign.
func normalizePhoneNumber(phone string) (string, error) {
	phone = strings.TrimSpace(phone)

	var (
		b      strings.Builder
		digits int
	)
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++

		case r == '+' && i == 0:
			b.WriteRune(r)

		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':

		default:
			return "", fmt.Errorf("%w: unexpected %q in %q",
				errInvalidPhoneNumber, r, phone)
		}
	}
	if digits < minPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short",
			errInvalidPhoneNumber, phone)
	}

	return b.String(), nil
}

// logAddressBookDiff reports a change of the address book.
func logAddressBookDiff(diff *diffsync.Diff) {
	added, removed := len(diff.Added), len(diff.Removed)
	log.Infof("Address book changed: %d %s added, %d removed", added,
		pickNoun(added, "contact", "contacts"), removed)
	log.Debugf("Added %v, removed %v", diff.AddedKeys(),
		diff.RemovedKeys())
}
