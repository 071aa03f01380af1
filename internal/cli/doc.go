// Copyright 2025 Tom Barlow
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

/*
Package cli provides the root command for the toolhub CLI.

This package creates the Cobra command tree root and handles global concerns
like version information, persistent flags, and exit codes. Individual
commands live in the internal/commands subpackages.

# Command Tree

	toolhub
	├── serve       Run the HTTP API
	├── servers     List and validate configured servers
	├── tools       List and call tools
	├── bridge      Run a file operation through the bridge
	├── secrets     Store header secrets in the system keychain
	└── version     Show version

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(serve.NewCommand())
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Only log errors
	--json           Output in JSON format
	--config         Path to config file
*/
package cli
