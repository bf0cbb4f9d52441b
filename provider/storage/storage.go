// storage.go - provider mailbox storage
// Copyright (C) 2019  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package provides per-destination mailbox storage for the provider
package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/sahith-narahari/nym/sphinx"
)

const (
	// StoredMessageFilenameLength is the length of every mailbox entry
	// filename.
	StoredMessageFilenameLength = 16

	// filenameEntropy is the number of random bytes which base64url
	// encode to exactly StoredMessageFilenameLength characters.
	filenameEntropy = 12

	dirMode = os.ModeDir | 0700
)

// Message is a single mailbox entry together with its filesystem
// location, so it can be deleted after a successful send.
type Message struct {
	Name string
	Data []byte

	path string
}

// Store is a mailbox collection rooted at a single directory. Each
// destination owns a subdirectory named with its base64url encoded
// address; entries are opaque blobs with fixed-length random names.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the root if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) mailboxDir(destination sphinx.DestinationAddressBytes) string {
	return filepath.Join(s.dir, base64.URLEncoding.EncodeToString(destination[:]))
}

// StoreMessage persists payload into the destination's mailbox. The
// mailbox directory is created lazily on first store. The entry is
// written to a temporary file and renamed into place; a filename
// collision is treated as fatal.
func (s *Store) StoreMessage(destination sphinx.DestinationAddressBytes, payload []byte) error {
	mailbox := s.mailboxDir(destination)
	if err := os.MkdirAll(mailbox, dirMode); err != nil {
		return err
	}
	name, err := randomFilename()
	if err != nil {
		return err
	}
	target := filepath.Join(mailbox, name)
	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("storage: mailbox filename collision: %s", target)
	} else if !os.IsNotExist(err) {
		return err
	}

	tmp, err := ioutil.TempFile(mailbox, ".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// RetrieveMessages reads up to limit entries from the destination's
// mailbox. Entries are not removed; the caller deletes them with
// DeleteMessages once the send succeeded. A missing mailbox yields an
// empty result.
func (s *Store) RetrieveMessages(destination sphinx.DestinationAddressBytes, limit int) ([]Message, error) {
	mailbox := s.mailboxDir(destination)
	entries, err := ioutil.ReadDir(mailbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	messages := []Message{}
	for _, entry := range entries {
		if len(messages) == limit {
			break
		}
		if entry.IsDir() || len(entry.Name()) != StoredMessageFilenameLength {
			continue
		}
		path := filepath.Join(mailbox, entry.Name())
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		messages = append(messages, Message{Name: entry.Name(), Data: data, path: path})
	}
	return messages, nil
}

// DeleteMessages removes previously retrieved entries from their
// mailbox.
func (s *Store) DeleteMessages(messages []Message) error {
	for _, message := range messages {
		if err := os.Remove(message.path); err != nil {
			return err
		}
	}
	return nil
}

func randomFilename() (string, error) {
	raw := make([]byte, filenameEntropy)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
