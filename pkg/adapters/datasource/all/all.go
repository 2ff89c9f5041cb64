// Package all links every datasource adapter into the binary.
package all

import (
	_ "github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/postgres"
)
