package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	dir, err := os.MkdirTemp("", "c2fleet-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dir, "c2.db"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleMemoryStore demonstrates the secondary lookup on the agent provider.
func ExampleMemoryStore() {
	providers := stores.NewMemoryStore().Providers()
	ctx := context.Background()

	_, _ = providers.Agents.Save(ctx, &model.Agent{Identifier: "agent-1", AgentClass: "edge"})
	_, _ = providers.Agents.Save(ctx, &model.Agent{Identifier: "agent-2", AgentClass: "core"})

	agents, err := providers.Agents.GetByClassName(ctx, "edge")
	if err != nil {
		log.Fatal(err)
	}
	for _, a := range agents {
		fmt.Println(a.Identifier)
	}
	// Output: agent-1
}
