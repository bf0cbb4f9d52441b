// storage_test.go - mailbox storage tests
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

package storage

import (
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sahith-narahari/nym/sphinx"
)

func testStore(t *testing.T) (*Store, func()) {
	dir, err := ioutil.TempDir("", "nymStoreTest")
	require.NoError(t, err, "TempDir failed")
	store, err := New(filepath.Join(dir, "inboxes"))
	require.NoError(t, err, "New failed")
	return store, func() { os.RemoveAll(dir) }
}

func testDestination(b byte) sphinx.DestinationAddressBytes {
	var destination sphinx.DestinationAddressBytes
	for i := range destination {
		destination[i] = b
	}
	return destination
}

func TestStoreCreatesMailboxLazily(t *testing.T) {
	require := require.New(t)

	store, cleanup := testStore(t)
	defer cleanup()

	destination := testDestination(1)
	require.NoError(store.StoreMessage(destination, []byte("hello")))

	mailbox := filepath.Join(store.dir, base64.URLEncoding.EncodeToString(destination[:]))
	entries, err := ioutil.ReadDir(mailbox)
	require.NoError(err)
	require.Len(entries, 1)
	require.Len(entries[0].Name(), StoredMessageFilenameLength)
}

func TestRetrieveLimitBoundary(t *testing.T) {
	require := require.New(t)

	store, cleanup := testStore(t)
	defer cleanup()

	destination := testDestination(2)
	for i := 0; i < 6; i++ {
		require.NoError(store.StoreMessage(destination, []byte(fmt.Sprintf("message %d", i))))
	}

	first, err := store.RetrieveMessages(destination, 5)
	require.NoError(err)
	require.Len(first, 5)
	require.NoError(store.DeleteMessages(first))

	second, err := store.RetrieveMessages(destination, 5)
	require.NoError(err)
	require.Len(second, 1)

	// retrievals are disjoint once consumed
	for _, old := range first {
		require.NotEqual(old.Name, second[0].Name)
	}
	require.NoError(store.DeleteMessages(second))

	third, err := store.RetrieveMessages(destination, 5)
	require.NoError(err)
	require.Empty(third)
}

func TestRetrieveMissingMailbox(t *testing.T) {
	require := require.New(t)

	store, cleanup := testStore(t)
	defer cleanup()

	messages, err := store.RetrieveMessages(testDestination(3), 5)
	require.NoError(err)
	require.Empty(messages)
}

func TestRetrieveSkipsTempFiles(t *testing.T) {
	require := require.New(t)

	store, cleanup := testStore(t)
	defer cleanup()

	destination := testDestination(4)
	require.NoError(store.StoreMessage(destination, []byte("kept")))

	mailbox := filepath.Join(store.dir, base64.URLEncoding.EncodeToString(destination[:]))
	require.NoError(ioutil.WriteFile(filepath.Join(mailbox, ".tmp123"), []byte("partial"), 0600))

	messages, err := store.RetrieveMessages(destination, 5)
	require.NoError(err)
	require.Len(messages, 1)
	require.Equal([]byte("kept"), messages[0].Data)
}
