package config

import "path/filepath"

// Every directory wabridge controls lives under home (~/.wabridge or
// WABRIDGE_HOME) so an install can be moved or backed up as one tree.

// Home returns the wabridge root directory (ResolveHome()).
func Home() string {
	return ResolveHome()
}

// BridgeDir is the default bridge.path, home/bridge.
func BridgeDir() string {
	return filepath.Join(Home(), "bridge")
}

// DataDir is home/data. The bridge keeps its auth state below it.
func DataDir() string {
	return filepath.Join(Home(), "data")
}

// LogsDir is home/logs.
func LogsDir() string {
	return filepath.Join(Home(), "logs")
}
