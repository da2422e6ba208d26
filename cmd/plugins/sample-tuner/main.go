// Command sample-tuner builds as a Go plugin (`go build -buildmode=plugin`)
// wrapping the minimum-viable tuner: it registers no tunables and only
// logs the events it receives. Drop the resulting .so into the daemon's
// plugin directory to load it.
package main

import (
	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/domain"
	"github.com/ptr1337/bpftune/internal/tuner"
	"github.com/ptr1337/bpftune/internal/tuner/sample"
)

var entry = sample.EntryPoints(mustLogger())

func mustLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Init, Fini, and EventHandler are the three symbols the daemon's
// goplugin.Loader resolves via plugin.Lookup.

func Init(host tuner.Host, id domain.TunerID) error {
	return entry.Init(host, id)
}

func Fini() {
	entry.Fini()
}

func EventHandler(host tuner.Host, id domain.TunerID, ev domain.Event) {
	entry.EventHandler(host, id, ev)
}

func main() {}
