package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	escrowtesting "github.com/malbeclabs/escrow/utils/pkg/testing"
)

var (
	sharedDB *escrowtesting.DB
)

func TestMain(m *testing.M) {
	log := escrowtesting.NewLogger()
	var err error
	sharedDB, err = escrowtesting.NewDB(context.Background(), log, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create shared PostgreSQL DB: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}
