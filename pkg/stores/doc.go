// Package stores provides the persistence providers for the C2 fleet
// inventory. Each entity kind has its own provider interface; the package
// ships a map-backed MemoryStore and a SQLite-backed SQLiteStore with
// embedded migrations.
package stores
