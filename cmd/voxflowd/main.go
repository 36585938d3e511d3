// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command voxflowd is the VoxFlow daemon: it serves the pipeline HTTP
// API and runs background jobs until stopped.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/voxflow/voxflow/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Config file path")
		listen      = flag.String("listen", "", "TCP address to listen on (host:port)")
		dataDir     = flag.String("data-dir", "", "State directory")
		backend     = flag.String("backend", "", "Job store backend (sqlite, memory)")
		watchDir    = flag.String("watch-dir", "", "Watch this directory and ingest new media files")
		mcp         = flag.Bool("mcp", false, "Also serve MCP tools on stdio")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("voxflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	err := daemon.Run(daemon.RunOptions{
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		ConfigPath: *configPath,
		Listen:     *listen,
		DataDir:    *dataDir,
		Backend:    *backend,
		WatchDir:   *watchDir,
		MCP:        *mcp,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxflowd: %v\n", err)
		os.Exit(1)
	}
}
