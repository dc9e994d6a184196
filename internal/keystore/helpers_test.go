package keystore

import (
	"encoding/json"
	"io"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jsonString(b []byte) string {
	out, _ := json.Marshal(string(b))
	return string(out)
}
