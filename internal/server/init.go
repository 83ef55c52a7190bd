package server

import "github.com/google/wire"

// ProviderSet bundles the HTTP server and its telemetry for Wire.
var ProviderSet = wire.NewSet(NewTelemetry, ProvideMeter, NewHTTPServer)
