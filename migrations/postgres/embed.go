// Package migrations embebe los archivos SQL del esquema.
package migrations

import "embed"

// FS contiene las migraciones *_up.sql y *_down.sql en orden ascendente
// por prefijo numérico.
//
//go:embed *.sql
var FS embed.FS
