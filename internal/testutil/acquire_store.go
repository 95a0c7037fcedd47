package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/andrebq/idbox/identity/sqlstore"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// AcquireStore opens an empty identity database inside a temp dir.
// The returned func closes the store and removes the directory.
func AcquireStore(ctx context.Context, t TestLog, name string) (*sqlstore.Store, func()) {
	dir, err := os.MkdirTemp("", "idbox-tests")
	if err != nil {
		t.Fatal(err)
	}
	abspath := filepath.Join(dir, name)
	st, err := sqlstore.Open(ctx, abspath)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return st, func() {
		err := st.Close()
		if err != nil {
			t.Log("unable to close identity store", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
