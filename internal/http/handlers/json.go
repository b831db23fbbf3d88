package handlers

import (
	"encoding/json"
	"net/http"
)

// jsonDecodeQuiet decodifica el body sin escribir errores al cliente.
// Para endpoints donde el body es opcional (p.ej. refresh con cookie).
func jsonDecodeQuiet(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
