//go:build !wasm
// +build !wasm

package gae_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/stores/gae"
	"github.com/panyam/authkit/stores/storetest"
)

// These tests need the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	export DATASTORE_EMULATOR_HOST=localhost:8081
func newClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "authkit-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDatastoreAdapter(t *testing.T) {
	client := newClient(t)
	storetest.RunAdapterTests(t, func(t *testing.T, now func() time.Time) authkit.Adapter {
		ns := "test-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		return gae.New(client, ns, gae.WithClock(now))
	})
}
