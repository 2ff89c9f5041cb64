package mssql

import "strings"

// sqlServerTypes maps SQL Server type names onto the names the other
// adapters report, so the renderer and prompt see one vocabulary.
var sqlServerTypes = map[string]string{
	"INT":              "INTEGER",
	"DECIMAL":          "NUMERIC",
	"SMALLMONEY":       "MONEY",
	"FLOAT":            "DOUBLE PRECISION",
	"NCHAR":            "CHAR",
	"NVARCHAR":         "VARCHAR",
	"NTEXT":            "TEXT",
	"BINARY":           "BYTEA",
	"VARBINARY":        "BYTEA",
	"IMAGE":            "BLOB",
	"DATETIME":         "TIMESTAMP",
	"DATETIME2":        "TIMESTAMP",
	"SMALLDATETIME":    "TIMESTAMP",
	"DATETIMEOFFSET":   "TIMESTAMP WITH TIME ZONE",
	"BIT":              "BOOLEAN",
	"UNIQUEIDENTIFIER": "UUID",
}

// mapSQLServerType normalizes a type name. A length or precision suffix
// such as "(50)" or "(max)" is dropped; unknown types pass through upper-cased.
func mapSQLServerType(sqlServerType string) string {
	name := strings.ToUpper(strings.TrimSpace(sqlServerType))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if mapped, ok := sqlServerTypes[name]; ok {
		return mapped
	}
	return name
}
