// Package all wires all built-in storage backends into the storage factory.
//
// Importing it (even as a blank import) runs each backend's init, which
// registers its factory. Binaries that need only a subset can import the
// backend packages directly instead.
package all

import (
	_ "catalogetl/internal/storage/mssql"
	_ "catalogetl/internal/storage/mysql"
	_ "catalogetl/internal/storage/postgres"
	_ "catalogetl/internal/storage/sqlite"
)
