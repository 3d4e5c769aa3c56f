/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for grow-cli
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cli/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"github.com/rakshittt/grow/cli/cmd"
)

func main() {
	cmd.Execute()
}
